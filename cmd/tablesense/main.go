package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/tablesense/internal/observability"
	"github.com/hrygo/tablesense/internal/profile"
	"github.com/hrygo/tablesense/server"
)

// version is overridden at build time with -ldflags.
var version = "0.1.0-dev"

var (
	rootCmd = &cobra.Command{
		Use:   "tablesense",
		Short: `Ask questions about CSV and Excel files in plain language.`,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			slog.SetDefault(observability.NewLogger(viper.GetString("log-level"), viper.GetString("log-format"), os.Stderr))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveCmd.RunE(cmd, args)
		},
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(_ *cobra.Command, _ []string) error {
			instanceProfile := newProfile()
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			a, err := wireApp(ctx, instanceProfile)
			if err != nil {
				return err
			}

			s := server.NewServer(instanceProfile, a.store, a.registry, server.Options{
				Cleanup:           cleanupConfig(),
				RequestsPerSecond: viper.GetFloat64("http-rps"),
				Burst:             viper.GetInt("http-burst"),
			})

			c := make(chan os.Signal, 1)
			// Trigger graceful shutdown on SIGINT or SIGTERM.
			// The default signal sent by the `kill` command is SIGTERM,
			// which is taken as the graceful shutdown signal for many systems, eg., Kubernetes, Gunicorn.
			signal.Notify(c, os.Interrupt, syscall.SIGTERM)

			if err := s.Start(ctx); err != nil {
				s.Shutdown(ctx)
				return err
			}
			printGreetings(instanceProfile)

			go func() {
				<-c
				s.Shutdown(ctx)
				cancel()
			}()

			// Wait for CTRL-C.
			<-ctx.Done()
			return nil
		},
	}
)

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", "sqlite")
	viper.SetDefault("addr", "")
	viper.SetDefault("port", 8081)
	viper.SetDefault("log-level", "info")
	viper.SetDefault("log-format", "text")

	flags := rootCmd.PersistentFlags()
	flags.String("mode", "dev", `mode of server, can be "prod" or "dev" or "demo"`)
	flags.String("addr", "", "address of server")
	flags.Int("port", 8081, "port of server")
	flags.String("data", "", "data directory")
	flags.String("driver", "sqlite", "database driver")
	flags.String("dsn", "", "database source name(aka. DSN)")
	flags.String("log-level", "info", "log level: debug, info, warn or error")
	flags.String("log-format", "text", "log format: text or json")

	flags.String("ai-llm-provider", "", "LLM provider: openai, deepseek, siliconflow or gemini")
	flags.String("ai-llm-model", "", "LLM model name")
	flags.String("ai-embedding-provider", "", "embedding provider: local, openai, siliconflow or gemini")
	flags.Float64("ai-rps", 0, "client-side LLM requests per second, 0 disables limiting")

	flags.Bool("long-term-memory", false, "enable semantic long-term memory")
	flags.Bool("durable-memory", false, "keep long-term memory in the database instead of JSON files")
	flags.Duration("idle-ttl", 0, "evict sessions idle for longer than this (default 30m)")
	flags.Duration("sweep-interval", 0, "interval between idle session sweeps (default 1m)")
	flags.Float64("http-rps", 0, "per-client HTTP requests per second (default 10)")
	flags.Int("http-burst", 0, "per-client HTTP burst (default 20)")

	for _, name := range []string{
		"mode", "addr", "port", "data", "driver", "dsn", "log-level", "log-format",
		"ai-llm-provider", "ai-llm-model", "ai-embedding-provider", "ai-rps",
		"long-term-memory", "durable-memory", "idle-ttl", "sweep-interval", "http-rps", "http-burst",
	} {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("tablesense")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	rootCmd.AddCommand(serveCmd, newAskCmd(), newReplCmd())
}

func newProfile() *profile.Profile {
	p := &profile.Profile{
		Mode:                viper.GetString("mode"),
		Addr:                viper.GetString("addr"),
		Port:                viper.GetInt("port"),
		Data:                viper.GetString("data"),
		Driver:              viper.GetString("driver"),
		DSN:                 viper.GetString("dsn"),
		Version:             version,
		AILLMProvider:       viper.GetString("ai-llm-provider"),
		AILLMModel:          viper.GetString("ai-llm-model"),
		AIEmbeddingProvider: viper.GetString("ai-embedding-provider"),
		AIRequestsPerSecond: viper.GetFloat64("ai-rps"),
		LongTermMemory:      viper.GetBool("long-term-memory"),
	}
	p.FromEnv()
	return p
}

func printGreetings(p *profile.Profile) {
	fmt.Printf("tablesense %s started successfully!\n", p.Version)
	if p.IsDev() {
		fmt.Fprint(os.Stderr, "Development mode is enabled\n")
		if p.DSN != "" {
			fmt.Fprintf(os.Stderr, "Database: %s\n", p.DSN)
		}
	}

	// Server information
	fmt.Printf("Data directory: %s\n", p.Data)
	fmt.Printf("Database driver: %s\n", p.Driver)
	fmt.Printf("Mode: %s\n", p.Mode)
	if len(p.Addr) == 0 {
		fmt.Printf("Server running on port %d\n", p.Port)
		fmt.Printf("Access your tablesense API at: http://localhost:%d\n", p.Port)
	} else {
		fmt.Printf("Server running on %s:%d\n", p.Addr, p.Port)
		fmt.Printf("Access your tablesense API at: http://%s:%d\n", p.Addr, p.Port)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
