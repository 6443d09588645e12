package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/tablesense/plugin/ai"
	"github.com/hrygo/tablesense/plugin/ai/agent"
	"github.com/hrygo/tablesense/plugin/ai/dataset"
)

func TestRepl(t *testing.T) {
	var questions []string
	llm := ai.LLMFunc(func(_ context.Context, messages []ai.Message) (string, error) {
		questions = append(questions, messages[len(messages)-1].Content)
		return `{"action": "code", "code": "result = len(df)"}`, nil
	})
	a := agent.New("cities.csv", llm, agent.WithIdleDelay(0))
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	ds := dataset.New([]string{"City"}, [][]any{{"London"}, {"Paris"}})

	tests := []struct {
		name    string
		input   string
		answers int
	}{
		{name: "stops at quit", input: "how many?\n\nquit\nignored\n", answers: 1},
		{name: "stops at eof", input: "how many?\nand now?", answers: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			questions = nil
			var out bytes.Buffer
			require.NoError(t, repl(context.Background(), a, ds, strings.NewReader(tt.input), &out))
			assert.Len(t, questions, tt.answers)
			assert.Equal(t, tt.answers, strings.Count(out.String(), "> 2\n"))
			assert.True(t, strings.HasPrefix(out.String(), "2 rows, columns: City\n"))
		})
	}
}

func TestNewProfileFromFlags(t *testing.T) {
	viper.Set("mode", "prod")
	viper.Set("port", 9000)
	viper.Set("ai-llm-provider", "deepseek")
	t.Cleanup(viper.Reset)

	p := newProfile()
	assert.Equal(t, "prod", p.Mode)
	assert.Equal(t, 9000, p.Port)
	assert.Equal(t, "deepseek", p.AILLMProvider)
	assert.Equal(t, version, p.Version)
	assert.Equal(t, 8, p.MemoryMaxItems, "unset fields fall back to env defaults")
}
