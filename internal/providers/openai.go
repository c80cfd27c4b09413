package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/flowagencyai/wabot/internal/conversation"
)

const defaultModel = "gpt-4o-mini"

// OpenAIProvider serves any OpenAI-compatible API (OpenAI, DeepSeek, Qwen,
// Kimi, etc.) selected by base URL.
type OpenAIProvider struct {
	client openai.Client
	model  string
	name   string
}

func NewOpenAIProvider(apiKey, baseURL, model string) *OpenAIProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if model == "" {
		model = defaultModel
	}

	name := "openai"
	switch {
	case strings.Contains(baseURL, "deepseek"):
		name = "deepseek"
	case strings.Contains(baseURL, "dashscope"):
		name = "qwen"
	case strings.Contains(baseURL, "moonshot"):
		name = "kimi"
	case strings.Contains(baseURL, "groq"):
		name = "groq"
	}

	return &OpenAIProvider{
		client: openai.NewClient(opts...),
		model:  model,
		name:   name,
	}
}

func (p *OpenAIProvider) Name() string { return p.name }

// Reply maps the conversation window onto chat-completion messages and
// returns the assistant text. Media-only messages are represented by a
// short placeholder so the model still sees them in sequence.
func (p *OpenAIProvider) Reply(ctx context.Context, req ReplyRequest) (string, error) {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.History)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, openai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.History {
		text := renderBody(m)
		if text == "" {
			continue
		}
		if m.FromMe {
			msgs = append(msgs, openai.AssistantMessage(text))
		} else {
			msgs = append(msgs, openai.UserMessage(text))
		}
	}

	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(p.model),
		Messages: msgs,
	})
	if err != nil {
		return "", fmt.Errorf("%s chat completion: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s chat completion: empty response", p.name)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func renderBody(m conversation.Message) string {
	body := m.Body
	if body == "" && m.MediaType != "" {
		body = fmt.Sprintf("[%s message]", m.MediaType)
		if m.MediaCaption != "" {
			body = fmt.Sprintf("[%s message] %s", m.MediaType, m.MediaCaption)
		}
	}
	if m.Quoted != nil && m.Quoted.Body != "" {
		body = fmt.Sprintf("(replying to: %q) %s", m.Quoted.Body, body)
	}
	return body
}
