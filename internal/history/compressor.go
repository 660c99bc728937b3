// Package history bounds conversation context before dispatch to an LLM
// by summarizing everything except the system message and the last N
// turns, falling back to truncation when summarization fails.
package history

import (
	"context"
	"strings"

	tiktoken "github.com/pkoukk/tiktoken-go"
	openai "github.com/sashabaranov/go-openai"
)

// Role mirrors the three roles a compressed message can carry.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is the compressor's minimal chat-message shape.
type Message struct {
	Role    Role
	Content string
}

// Summarizer performs the actual LLM call used to compress the prefix. A
// real implementation wraps go-openai's client; tests can stub it.
type Summarizer interface {
	Summarize(ctx context.Context, messages []Message) (string, error)
}

// OpenAISummarizer calls a chat completion endpoint to produce the prefix
// summary.
type OpenAISummarizer struct {
	Client *openai.Client
	Model  string
}

func (s *OpenAISummarizer) Summarize(ctx context.Context, messages []Message) (string, error) {
	chatMsgs := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	chatMsgs = append(chatMsgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: "Summarize the following conversation prefix concisely, preserving all decisions, file paths, and open questions.",
	})
	for _, m := range messages {
		chatMsgs = append(chatMsgs, openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}

	resp, err := s.Client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    s.Model,
		Messages: chatMsgs,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errNoChoices
	}
	return resp.Choices[0].Message.Content, nil
}

type compressorError string

func (e compressorError) Error() string { return string(e) }

const errNoChoices = compressorError("history: summarization returned no choices")

const (
	// preservedTurns is the default number of trailing turns kept
	// verbatim.
	preservedTurns = 6

	// charsPerTokenHeuristic is the local-model fallback estimate (~4
	// characters per token).
	charsPerTokenHeuristic = 4.0
)

// Compressor implements compress(messages, maxTokens, isLocalModel).
type Compressor struct {
	Summarizer    Summarizer
	PreservedTurns int
	// Encoding is used for non-local-model accurate token counts; nil
	// falls back to the heuristic unconditionally.
	Encoding *tiktoken.Tiktoken
}

func New(summarizer Summarizer) *Compressor {
	enc, _ := tiktoken.GetEncoding("cl100k_base")
	return &Compressor{Summarizer: summarizer, PreservedTurns: preservedTurns, Encoding: enc}
}

// CountTokens estimates the token count of text. For local models it
// applies the ~4 chars/token heuristic unconditionally (local-model
// tokenizers vary too much to approximate with one encoding); for
// non-local (hosted) models, tiktoken-go gives an exact count when an
// encoding is available, falling back to the heuristic otherwise.
func (c *Compressor) CountTokens(text string, isLocalModel bool) int {
	if !isLocalModel && c.Encoding != nil {
		return len(c.Encoding.Encode(text, nil, nil))
	}
	return int(float64(len(text))/charsPerTokenHeuristic) + 1
}

// Compress preserves any leading system message plus the last N turns
// verbatim, replacing everything in between with a single summary
// message. If summarization fails, it falls back to truncation: drop the
// oldest non-system messages until the estimate fits under maxTokens,
// always keeping at least the newest one even if it alone does not fit.
func (c *Compressor) Compress(ctx context.Context, messages []Message, maxTokens int, isLocalModel bool) []Message {
	if c.totalTokens(messages, isLocalModel) <= maxTokens {
		return messages
	}

	var system *Message
	rest := messages
	if len(messages) > 0 && messages[0].Role == RoleSystem {
		system = &messages[0]
		rest = messages[1:]
	}

	n := c.PreservedTurns
	if n > len(rest) {
		n = len(rest)
	}
	preserved := rest[len(rest)-n:]
	prefix := rest[:len(rest)-n]

	if len(prefix) == 0 {
		return messages
	}

	var out []Message
	if system != nil {
		out = append(out, *system)
	}

	if c.Summarizer != nil {
		if summary, err := c.Summarizer.Summarize(ctx, prefix); err == nil {
			out = append(out, Message{Role: RoleAssistant, Content: "[conversation summary]\n" + summary})
			out = append(out, preserved...)
			return out
		}
	}

	return c.truncate(messages, maxTokens, isLocalModel)
}

// truncate is the fallback strategy: drop the oldest non-system messages
// one at a time until the estimate fits under maxTokens. It stops at one
// remaining non-system message, which is kept even when over budget.
func (c *Compressor) truncate(messages []Message, maxTokens int, isLocalModel bool) []Message {
	var system *Message
	rest := make([]Message, len(messages))
	copy(rest, messages)
	if len(rest) > 0 && rest[0].Role == RoleSystem {
		system = &rest[0]
		rest = rest[1:]
	}

	for len(rest) > 1 {
		candidate := rest
		if system != nil {
			candidate = append([]Message{*system}, rest...)
		}
		if c.totalTokens(candidate, isLocalModel) <= maxTokens {
			return candidate
		}
		rest = rest[1:]
	}

	if system != nil {
		return append([]Message{*system}, rest...)
	}
	return rest
}

func (c *Compressor) totalTokens(messages []Message, isLocalModel bool) int {
	var sb strings.Builder
	for _, m := range messages {
		sb.WriteString(string(m.Role))
		sb.WriteString(m.Content)
	}
	return c.CountTokens(sb.String(), isLocalModel)
}
