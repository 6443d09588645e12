package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/hrygo/tablesense/plugin/ai/agent"
	"github.com/hrygo/tablesense/plugin/ai/dataset"
)

func newAskCmd() *cobra.Command {
	var noMemory bool
	cmd := &cobra.Command{
		Use:   "ask <file> <question>",
		Short: "Ask one question about a CSV or Excel file",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.Join(args[1:], " ")
			return withAnalyst(cmd.Context(), args[0], func(ctx context.Context, a *agent.Analyst, ds *dataset.Dataset) error {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), a.Analyze(ctx, ds, question, !noMemory))
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&noMemory, "no-memory", false, "answer without conversation memory")
	return cmd
}

func newReplCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repl <file>",
		Short: "Hold a conversation about a CSV or Excel file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAnalyst(cmd.Context(), args[0], func(ctx context.Context, a *agent.Analyst, ds *dataset.Dataset) error {
				return repl(ctx, a, ds, cmd.InOrStdin(), cmd.OutOrStdout())
			})
		},
	}
}

// repl answers one question per input line until EOF, "exit" or "quit".
func repl(ctx context.Context, a *agent.Analyst, ds *dataset.Dataset, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprintf(out, "%d rows, columns: %s\n", ds.Len(), strings.Join(ds.Columns(), ", "))
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}
		fmt.Fprintln(out, a.AskFollowup(ctx, ds, line))
	}
}

func withAnalyst(ctx context.Context, path string, fn func(context.Context, *agent.Analyst, *dataset.Dataset) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ds, err := dataset.Load(path)
	if err != nil {
		return errors.Wrapf(err, "failed to load %s", path)
	}

	a, err := wireApp(ctx, newProfile())
	if err != nil {
		return err
	}
	defer a.close(ctx)

	analyst, err := a.registry.Get(ctx, filepath.Base(path))
	if err != nil {
		return err
	}
	return fn(ctx, analyst, ds)
}
