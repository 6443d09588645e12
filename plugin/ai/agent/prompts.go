package agent

import (
	"fmt"
	"strings"
)

const analystSystemPrompt = `You are a data analyst. You answer questions about a table that is already loaded as df.
You reply with a single JSON object and nothing else.`

// analystInstructions describes the action format and the snippet dialect.
// Snippets are Starlark, a small Python dialect without imports.
const analystInstructions = `Based on the following dataset and the conversation history, answer the user question.
The dataset is already loaded as ` + "`df`" + `.
Provide only a JSON object (no additional text). The JSON must contain these keys:
- action: one of ["code","rows","answer"].
- code: (string) a Python-style snippet that computes the answer. Save the final answer into a variable named result.
  To return rows instead, assign a dataset to filtered_df. Do not reassign df. Do not use import.
- rows_filter: (optional) a short pandas-style boolean expression that filters df, e.g. "Company == 'Company A'".
- target_columns: a list of column names the user is asking for.
- explain: (optional) short explanation (1-2 sentences). For action "answer" this is the answer.

Available on df: df.columns, len(df), df.rows(), df.column(name), df.head(n), df.filter(expr),
df.select(columns), df.sort_by(column, reverse=False), df.max_by(column), df.min_by(column),
df.sum(column), df.mean(column), df.unique(column), df.count(), df.value_counts(column), df.to_csv().
df[i] is row i as a dict, df["col"] is a column as a list. Datasets are immutable: methods return new ones.
Built-ins: len min max sum abs round list dict tuple float int str bool range sorted reversed enumerate zip any all print.

Rules:
- If the user asks about specific columns, include only those columns.
- If the user asks about multiple attributes, return all relevant columns.
- If the user asks a broad question (e.g. "show details"), return an empty list.
- Column names must match the dataset columns exactly. Do not create new column names.

Examples:

User: "Give me the model name where primary use case is image generation."
Your output:
{"action": "rows", "rows_filter": "` + "`Primary Use Case`" + ` == 'Image Generation'", "target_columns": ["Model Name"]}

User: "Show models with parameters above 1 billion."
Your output:
{"action": "rows", "rows_filter": "` + "`Parameters (Billions)`" + ` > 1", "target_columns": ["Model Name", "Parameters (Billions)"]}

User: "Which model has the most parameters?"
Your output:
{"action": "code", "code": "result = df.max_by(\"Parameters (Billions)\")[\"Model Name\"]", "target_columns": ["Model Name"]}

If the user question refers to "those/them/previous", reuse the previously selected rows.
Do not access external resources. Avoid any filesystem or network operations.`

// buildAnalystPrompt renders the user prompt for one turn.
func buildAnalystPrompt(preview string, columns []string, question, memoryContext string, reusing bool) string {
	var b strings.Builder
	b.WriteString(analystInstructions)
	b.WriteString("\n\n")

	if reusing {
		b.WriteString("df holds the rows selected in a previous turn.\n")
	}
	fmt.Fprintf(&b, "Columns: %s\n", strings.Join(columns, ", "))
	fmt.Fprintf(&b, "Dataset sample (first %d rows):\n%s\n\n", previewRows, preview)
	fmt.Fprintf(&b, "Question: %s\n\n", question)

	b.WriteString("Relevant conversation context (if any):\n")
	b.WriteString(memoryContext)
	b.WriteString("\n\n")

	b.WriteString(`If you return "action": "rows", include rows_filter or a small CSV snippet in code.` + "\n")
	b.WriteString("Output strictly parseable JSON.")
	return b.String()
}

// buildMemoryContext joins the short-term transcript and long-term hits into
// the labelled blocks the prompt expects.
func buildMemoryContext(shortTerm string, hits []string) string {
	var b strings.Builder
	if shortTerm != "" {
		b.WriteString("\n[Short-Term Memory]\n")
		b.WriteString(shortTerm)
		b.WriteString("\n")
	}
	if len(hits) > 0 {
		b.WriteString("\n[Structured Data Memory]\n")
		for i, h := range hits {
			if i > 0 {
				b.WriteString("\n")
			}
			b.WriteString("[SDCM] ")
			b.WriteString(h)
		}
		b.WriteString("\n")
	}
	return b.String()
}
