package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/tablesense/plugin/ai/dataset"
)

func TestRefersToPrevious(t *testing.T) {
	tests := []struct {
		question string
		want     bool
	}{
		{"Show those rows again", true},
		{"What is the average of THEM?", true},
		{"Which of these are in Europe?", true},
		{"Sort the above by population", true},
		{"Repeat the previous answer", true},
		{"What did that company earn?", true},
		{"Which city has the highest population?", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			assert.Equal(t, tt.want, RefersToPrevious(tt.question))
		})
	}
}

func TestCarryOverStoresCopies(t *testing.T) {
	var c carryOver
	assert.False(t, c.has())
	assert.Nil(t, c.load())

	rows := dataset.New([]string{"City"}, [][]any{{"Paris"}, {"Tokyo"}})
	c.store(rows)
	require.True(t, c.has())

	got := c.load()
	require.NotNil(t, got)
	assert.True(t, rows.Equal(got))
	assert.NotSame(t, rows, got)

	c.store(dataset.New([]string{"City"}, [][]any{{"Rome"}}))
	assert.Equal(t, 1, c.load().Len(), "new rows overwrite the snapshot")

	c.store(nil)
	assert.True(t, c.has(), "nil is ignored")

	c.clear()
	assert.False(t, c.has())
}
