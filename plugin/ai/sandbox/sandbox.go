// Package sandbox runs model-generated analysis snippets against a dataset.
//
// Snippets are Starlark. The interpreter has no filesystem, network, clock or
// module loading, and a restricted set of builtins. The dataset is bound to
// the global df; a snippet reports back through result, filtered_df, any other
// dataframe global, or print.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/hrygo/tablesense/plugin/ai/dataset"
	"github.com/hrygo/tablesense/plugin/ai/timeout"
)

func init() {
	// Snippets are written like scripts: top-level reassignment, while-style
	// recursion and set literals are allowed.
	resolve.AllowGlobalReassign = true
	resolve.AllowRecursion = true
	resolve.AllowSet = true
}

// Kind classifies the outcome of a run.
type Kind int

const (
	// KindValue means the snippet bound a non-dataframe result.
	KindValue Kind = iota
	// KindFilteredDataset means the snippet produced a dataframe.
	KindFilteredDataset
	// KindText means the snippet printed output and bound no result.
	KindText
	// KindNoOutput means the snippet produced nothing.
	KindNoOutput
	// KindError means the snippet failed to compile or run.
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindValue:
		return "value"
	case KindFilteredDataset:
		return "filtered_dataset"
	case KindText:
		return "text"
	case KindNoOutput:
		return "no_output"
	case KindError:
		return "error"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// NoOutputMessage is reported when a snippet binds nothing and prints nothing.
const NoOutputMessage = "No output returned."

// Result is the outcome of one run.
type Result struct {
	Kind    Kind
	Value   string
	Dataset *dataset.Dataset
	Output  string
	Err     error
}

// Text renders the outcome as answer text.
func (r Result) Text() string {
	switch r.Kind {
	case KindValue:
		return r.Value
	case KindFilteredDataset:
		return r.Dataset.CSV()
	case KindText:
		return r.Output
	case KindError:
		return r.Err.Error()
	default:
		return NoOutputMessage
	}
}

// Reserved global names.
const (
	DatasetVar  = "df"
	ResultVar   = "result"
	FilteredVar = "filtered_df"
)

// allowedUniverse lists the Starlark builtins a snippet may reference.
var allowedUniverse = map[string]bool{
	"True": true, "False": true, "None": true,
	"len": true, "min": true, "max": true, "sum": true, "abs": true, "round": true,
	"list": true, "dict": true, "tuple": true, "set": true,
	"float": true, "int": true, "str": true, "bool": true,
	"range": true, "sorted": true, "reversed": true, "enumerate": true, "zip": true,
	"any": true, "all": true, "print": true, "repr": true,
}

// ValidationError reports a snippet rejected before it ran.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

// Option configures a Sandbox.
type Option func(*Sandbox)

// WithTimeout bounds the wall-clock time of each run.
func WithTimeout(d time.Duration) Option {
	return func(s *Sandbox) { s.timeout = d }
}

// WithMaxSteps bounds the number of interpreter steps of each run.
func WithMaxSteps(n uint64) Option {
	return func(s *Sandbox) { s.maxSteps = n }
}

// WithLogger sets the logger used for run diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sandbox) { s.logger = logger }
}

// Sandbox executes snippets. It is safe for concurrent use; each run gets its
// own thread and globals.
type Sandbox struct {
	timeout  time.Duration
	maxSteps uint64
	logger   *slog.Logger
	live     atomic.Int64
}

// New creates a sandbox with default limits.
func New(opts ...Option) *Sandbox {
	s := &Sandbox{
		timeout:  timeout.SandboxTimeout,
		maxSteps: timeout.SandboxMaxSteps,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Live reports whether any run is still holding interpreter state.
func (s *Sandbox) Live() bool {
	return s.live.Load() > 0
}

var predeclaredBuiltins = starlark.StringDict{
	"sum":   starlark.NewBuiltin("sum", builtinSum),
	"abs":   starlark.NewBuiltin("abs", builtinAbs),
	"round": starlark.NewBuiltin("round", builtinRound),
}

// Run executes snippet with df bound to a copy of ds.
func (s *Sandbox) Run(ctx context.Context, snippet string, ds *dataset.Dataset) (res Result) {
	s.live.Add(1)
	defer s.live.Add(-1)

	start := time.Now()
	defer func() {
		s.logger.Debug("sandbox run finished",
			slog.String("outcome", res.Kind.String()),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	}()

	predeclared := make(starlark.StringDict, len(predeclaredBuiltins)+1)
	for k, v := range predeclaredBuiltins {
		predeclared[k] = v
	}
	if ds == nil {
		ds = dataset.New(nil, nil)
	}
	predeclared[DatasetVar] = NewFrame(ds.Clone())

	file, prog, err := starlark.SourceProgram("snippet.star", snippet, predeclared.Has)
	if err != nil {
		return errorResult(err)
	}
	if err := validate(file); err != nil {
		return errorResult(err)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	var out bytes.Buffer
	thread := &starlark.Thread{
		Name: "snippet",
		Print: func(_ *starlark.Thread, msg string) {
			out.WriteString(msg)
			out.WriteByte('\n')
		},
		Load: func(_ *starlark.Thread, module string) (starlark.StringDict, error) {
			return nil, fmt.Errorf("load of %q is not allowed", module)
		},
	}
	if s.maxSteps > 0 {
		thread.SetMaxExecutionSteps(s.maxSteps)
	}
	stop := context.AfterFunc(ctx, func() {
		thread.Cancel(context.Cause(ctx).Error())
	})
	defer stop()

	var globals starlark.StringDict
	defer func() {
		for k := range globals {
			delete(globals, k)
		}
		out.Reset()
	}()

	globals, err = s.exec(thread, prog, predeclared)
	if err != nil {
		return errorResult(err)
	}
	return extract(globals, out.String())
}

func (s *Sandbox) exec(thread *starlark.Thread, prog *starlark.Program, predeclared starlark.StringDict) (globals starlark.StringDict, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("sandbox run panicked", slog.Any("panic", r))
			globals, err = nil, fmt.Errorf("internal error: %v", r)
		}
	}()
	return prog.Init(thread, predeclared)
}

// extract picks the outcome from the finished globals and printed output.
func extract(globals starlark.StringDict, printed string) Result {
	if v, ok := globals[ResultVar]; ok && v != starlark.None {
		switch x := v.(type) {
		case *Frame:
			return Result{Kind: KindFilteredDataset, Dataset: x.Dataset(), Output: printed}
		case starlark.String:
			return Result{Kind: KindValue, Value: string(x), Output: printed}
		default:
			return Result{Kind: KindValue, Value: v.String(), Output: printed}
		}
	}

	if f, ok := globals[FilteredVar].(*Frame); ok {
		return Result{Kind: KindFilteredDataset, Dataset: f.Dataset(), Output: printed}
	}
	names := make([]string, 0, len(globals))
	for name := range globals {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if f, ok := globals[name].(*Frame); ok {
			return Result{Kind: KindFilteredDataset, Dataset: f.Dataset(), Output: printed}
		}
	}

	if text := strings.TrimSpace(printed); text != "" {
		return Result{Kind: KindText, Output: text}
	}
	return Result{Kind: KindNoOutput}
}

func errorResult(err error) Result {
	if evalErr, ok := err.(*starlark.EvalError); ok {
		err = fmt.Errorf("%s", evalErr.Msg)
	}
	return Result{Kind: KindError, Err: err}
}

// validate rejects module loading and builtins outside the allow-list.
func validate(file *syntax.File) error {
	var verr error
	syntax.Walk(file, func(n syntax.Node) bool {
		if verr != nil {
			return false
		}
		switch x := n.(type) {
		case *syntax.LoadStmt:
			verr = &ValidationError{Msg: "load statements are not allowed"}
			return false
		case *syntax.Ident:
			if b, ok := x.Binding.(*resolve.Binding); ok && b.Scope == resolve.Universal && !allowedUniverse[x.Name] {
				verr = &ValidationError{Msg: fmt.Sprintf("use of builtin %q is not allowed", x.Name)}
				return false
			}
		}
		return true
	})
	return verr
}
