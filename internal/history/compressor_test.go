package history

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSummarizer struct {
	summary string
	err     error
}

func (s *stubSummarizer) Summarize(ctx context.Context, messages []Message) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.summary, nil
}

type summarizerError string

func (e summarizerError) Error() string { return string(e) }

func buildMessages(n int) []Message {
	msgs := []Message{{Role: RoleSystem, Content: "you are a helpful assistant"}}
	for i := 0; i < n; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		msgs = append(msgs, Message{Role: role, Content: strings.Repeat("word ", 50)})
	}
	return msgs
}

func TestCompress_NoOpUnderBudget(t *testing.T) {
	c := New(&stubSummarizer{summary: "s"})
	msgs := buildMessages(4)

	out := c.Compress(context.Background(), msgs, 1_000_000, false)
	assert.Equal(t, msgs, out)
}

func TestCompress_PreservesSystemAndLastNTurns(t *testing.T) {
	c := New(&stubSummarizer{summary: "compressed summary"})
	msgs := buildMessages(20)

	out := c.Compress(context.Background(), msgs, 10, false)

	require.NotEmpty(t, out)
	assert.Equal(t, RoleSystem, out[0].Role)

	preserved := msgs[len(msgs)-c.PreservedTurns:]
	gotPreserved := out[len(out)-c.PreservedTurns:]
	assert.Equal(t, preserved, gotPreserved)

	// a summary message sits between system and the preserved tail
	assert.Contains(t, out[1].Content, "compressed summary")
}

func TestCompress_FallsBackToTruncationOnSummarizerError(t *testing.T) {
	c := New(&stubSummarizer{err: summarizerError("boom")})
	msgs := buildMessages(20)

	out := c.Compress(context.Background(), msgs, 10, false)

	// truncation never fabricates a summary message
	for _, m := range out {
		assert.NotContains(t, m.Content, "[conversation summary]")
	}
	assert.Less(t, len(out), len(msgs))
}

func TestCompress_NilSummarizerFallsBackToTruncation(t *testing.T) {
	c := New(nil)
	msgs := buildMessages(20)

	out := c.Compress(context.Background(), msgs, 10, false)
	assert.Less(t, len(out), len(msgs))
}

func TestCountTokens_LocalModelUsesHeuristic(t *testing.T) {
	c := New(nil)
	text := strings.Repeat("a", 40)
	tokens := c.CountTokens(text, true)
	assert.Equal(t, int(40.0/charsPerTokenHeuristic)+1, tokens)
}

func TestCountTokens_HostedModelUsesEncoding(t *testing.T) {
	c := New(nil)
	require.NotNil(t, c.Encoding)
	tokens := c.CountTokens("hello world", false)
	assert.Greater(t, tokens, 0)
}

func TestTruncate_DropsOldestMessagesFirst(t *testing.T) {
	c := New(nil)
	msgs := buildMessages(10)

	out := c.truncate(msgs, 15, false)
	require.NotEmpty(t, out)
	assert.Equal(t, RoleSystem, out[0].Role)
	// the tail of the original conversation should be what survives
	assert.Equal(t, msgs[len(msgs)-1].Content, out[len(out)-1].Content)
}
