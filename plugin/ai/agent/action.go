package agent

// Action is an interpreted LLM response. The concrete type is one of
// CodeAction, RowsAction, AnswerAction or UnrecognizedAction; callers match
// with a type switch.
type Action interface {
	// Name is the action name as the model spelled it, for logs.
	Name() string
	action()
}

// CodeAction asks for a snippet to be run in the sandbox. Legacy is set when
// the response carried no structured object and the whole text is treated as
// code.
type CodeAction struct {
	Code          string
	RowsFilter    string
	TargetColumns []string
	Explain       string
	Legacy        bool
}

// RowsAction asks for rows of the dataset. Code may hold an inline CSV
// snippet when the model returned rows instead of a filter.
type RowsAction struct {
	RowsFilter    string
	Code          string
	TargetColumns []string
	Explain       string
}

// AnswerAction carries a direct answer with no code to run.
type AnswerAction struct {
	Explain string
}

// UnrecognizedAction is a structured response whose action is not one of
// code, rows or answer.
type UnrecognizedAction struct {
	Action string
}

func (a CodeAction) Name() string {
	if a.Legacy {
		return "legacy_code"
	}
	return actionCode
}

func (RowsAction) Name() string   { return actionRows }
func (AnswerAction) Name() string { return actionAnswer }

func (a UnrecognizedAction) Name() string {
	if a.Action == "" {
		return "unrecognized"
	}
	return a.Action
}

func (CodeAction) action()         {}
func (RowsAction) action()         {}
func (AnswerAction) action()       {}
func (UnrecognizedAction) action() {}

const (
	actionCode   = "code"
	actionRows   = "rows"
	actionAnswer = "answer"
)
