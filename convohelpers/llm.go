// Package convohelpers collects small, optional helpers built on
// Handle.External: operations a conversation builder is likely to need that
// are non-deterministic or side-effecting and must therefore run at most
// once per instance lifetime. It currently holds one: an LLM completion.
package convohelpers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"

	"github.com/hrygo/tgconvo/conversation"
)

// Message is a single turn in an LLM chat completion request.
type Message struct {
	Role    string // system, user, assistant
	Content string
}

// CallStats mirrors the token/timing metrics a completion call reports,
// recorded alongside the content so replay reconstructs both without
// re-calling the model.
type CallStats struct {
	PromptTokens     int   `json:"prompt_tokens"`
	CompletionTokens int   `json:"completion_tokens"`
	TotalTokens      int   `json:"total_tokens"`
	TotalDurationMs  int64 `json:"total_duration_ms"`
}

// Reply is what AskLLM returns: the model's answer plus the stats of the
// call that produced it.
type Reply struct {
	Content string
	Stats   CallStats
}

type storedReply struct {
	Content string    `json:"content"`
	Stats   CallStats `json:"stats"`
}

// LLM is a thin completion client bound to one model/provider, the
// convohelpers analogue of the teacher's llm.Service but scoped to the one
// call shape a conversation builder needs.
type LLM struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	timeout     time.Duration
}

// Config configures an LLM client.
type Config struct {
	APIKey      string
	BaseURL     string // empty uses the OpenAI default
	Model       string
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration // default: 120s
}

// NewLLM builds an LLM client from cfg, following the teacher's own
// provider-config-to-openai.Client wiring (an OpenAI-compatible BaseURL
// swap is enough to reach any of the providers the teacher's llm.Service
// supports; this helper only ever needs one already-selected provider).
func NewLLM(cfg Config) *LLM {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	return &LLM{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		timeout:     timeout,
	}
}

// AskLLM runs one chat completion through h.External, so the call happens
// at most once per instance lifetime: the live run actually reaches the
// network, while any later replay reconstructs the same Reply from the
// transcript instead of calling the model again.
func AskLLM[C any](ctx context.Context, h *conversation.Handle[C], llm *LLM, key string, messages []Message) (Reply, error) {
	v, err := h.External(conversation.ExternalOp{
		Key: "llm:" + key,
		Task: func(ctx context.Context) (any, error) {
			return llm.chat(ctx, messages)
		},
		BeforeStore: func(value any) any {
			r := value.(Reply)
			return storedReply{Content: r.Content, Stats: r.Stats}
		},
		AfterLoad: func(stored any) any {
			sr, ok := stored.(storedReply)
			if !ok {
				sr = decodeStoredReply(stored)
			}
			return Reply{Content: sr.Content, Stats: sr.Stats}
		},
		BeforeStoreError: func(err error) any { return err.Error() },
		AfterLoadError: func(stored any) error {
			msg, _ := stored.(string)
			return errors.New(msg)
		},
	})
	if err != nil {
		return Reply{}, err
	}
	reply, _ := v.(Reply)
	return reply, nil
}

func (l *LLM) chat(ctx context.Context, messages []Message) (Reply, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model:       l.model,
		MaxTokens:   l.maxTokens,
		Temperature: l.temperature,
		Messages:    convertMessages(messages),
	}

	start := time.Now()
	resp, err := l.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return Reply{}, errors.Wrap(err, "convohelpers: chat completion failed")
	}
	if len(resp.Choices) == 0 {
		return Reply{}, errors.New("convohelpers: empty response from model")
	}

	return Reply{
		Content: resp.Choices[0].Message.Content,
		Stats: CallStats{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
			TotalDurationMs:  time.Since(start).Milliseconds(),
		},
	}, nil
}

// decodeStoredReply handles the case where stored comes back as
// map[string]any: once a Reply's outcome has actually round-tripped through
// the versioned storage facade's JSON envelope (rather than being replayed
// in-process immediately after the call that produced it), encoding/json
// no longer hands back the original storedReply type.
func decodeStoredReply(stored any) storedReply {
	var sr storedReply
	blob, err := json.Marshal(stored)
	if err != nil {
		return sr
	}
	_ = json.Unmarshal(blob, &sr)
	return sr
}

func convertMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		out[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	return out
}
