package responder

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/drblury/replyflow/internal/runtime/chatevent"
	"github.com/drblury/replyflow/internal/runtime/jsoncodec"
)

// SystemPrompt instructs the model to answer on the owner's behalf.
const SystemPrompt = `Act as a helpful Personal Assistant that is answering messages and acting on behalf of the owner.
- You have to respond like if you were the owner.
- You should use the same style as the owner to write your responses.
- Generate short answers, max 10 words
- Given the history of the conversation, you should identify constraints or rules that the owner has set.
- If the owner has set a rule, you should follow it.
- When the owner responds, your output should be empty.`

// HistoryReader returns the latest entries of a conversation, oldest first.
type HistoryReader interface {
	History(ctx context.Context, chatID string, limit int) ([]chatevent.HistoryEntry, error)
}

// OpenAIConfig configures the OpenAI-compatible backend.
type OpenAIConfig struct {
	BaseURL      string
	APIKey       string
	Model        string
	HistoryLimit int
	HTTPClient   *http.Client
}

// OpenAI calls a /chat/completions endpoint with the conversation history as
// context.
type OpenAI struct {
	cfg     OpenAIConfig
	history HistoryReader
	client  *http.Client
}

// NewOpenAI returns an OpenAI responder. history may be nil, in which case
// only the current message is sent.
func NewOpenAI(cfg OpenAIConfig, history HistoryReader) *OpenAI {
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &OpenAI{cfg: cfg, history: history, client: client}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (o *OpenAI) Generate(ctx context.Context, req Request) (string, error) {
	messages, err := o.buildMessages(ctx, req)
	if err != nil {
		return "", err
	}

	body, err := jsoncodec.Marshal(chatRequest{
		Model:       o.cfg.Model,
		Messages:    messages,
		Temperature: 0,
	})
	if err != nil {
		return "", fmt.Errorf("%w: encode request: %w", ErrResponder, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: build request: %w", ErrResponder, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrResponder, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("%w: status %d: %s", ErrResponder, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out chatResponse
	if err := jsoncodec.Decode(resp.Body, &out); err != nil {
		return "", fmt.Errorf("%w: decode response: %w", ErrResponder, err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%w: response has no choices", ErrResponder)
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

func (o *OpenAI) buildMessages(ctx context.Context, req Request) ([]chatMessage, error) {
	messages := []chatMessage{{Role: "system", Content: SystemPrompt}}

	if o.history != nil && o.cfg.HistoryLimit > 0 {
		entries, err := o.history.History(ctx, req.ConversationID, o.cfg.HistoryLimit+1)
		if err != nil {
			return nil, fmt.Errorf("%w: load history: %w", ErrResponder, err)
		}
		prior := entries[:0]
		for _, h := range entries {
			if h.EventID != req.EventID {
				prior = append(prior, h)
			}
		}
		if len(prior) > o.cfg.HistoryLimit {
			prior = prior[len(prior)-o.cfg.HistoryLimit:]
		}
		for _, h := range prior {
			messages = append(messages, historyMessage(h))
		}
	}

	return append(messages, chatMessage{
		Role:    "user",
		Content: req.Text,
		Name:    nameField(req.SenderName),
	}), nil
}

func historyMessage(h chatevent.HistoryEntry) chatMessage {
	if h.IsFromSelf || h.SenderRole == string(RoleOwner) {
		return chatMessage{Role: "assistant", Content: h.Text}
	}
	return chatMessage{Role: "user", Content: h.Text, Name: nameField(h.From)}
}

// nameField keeps only the characters the chat completions API accepts in
// the name field.
func nameField(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_' || r == '-' {
			b.WriteRune(r)
		}
		if b.Len() == 64 {
			break
		}
	}
	return b.String()
}
