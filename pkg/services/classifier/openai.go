package classifier

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"invoice-split/pkg/errdefs"
	"invoice-split/pkg/models"
	"invoice-split/pkg/services/render"
)

const (
	defaultModel = "gpt-4o"
	maxTokens    = 2500
	temperature  = 0.1
	maxImageSide = 2048
)

type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAI classifies windows with a vision chat model. All pages of a window
// go into one request.
type OpenAI struct {
	client chatCompleter
	model  string
	log    zerolog.Logger
}

// OpenAIOptions configures NewOpenAI.
type OpenAIOptions struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// NewOpenAI builds the vision classifier.
func NewOpenAI(opts OpenAIOptions) *OpenAI {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	if opts.HTTPClient != nil {
		cfg.HTTPClient = opts.HTTPClient
	}
	return newOpenAI(openai.NewClientWithConfig(cfg), opts.Model, opts.Logger)
}

func newOpenAI(c chatCompleter, model string, log zerolog.Logger) *OpenAI {
	if model == "" {
		model = defaultModel
	}
	return &OpenAI{client: c, model: model, log: log}
}

// Classify sends the window images with the boundary prompt and parses the answer.
func (o *OpenAI) Classify(ctx context.Context, w models.Window) (models.WindowResult, error) {
	if len(w.Pages) == 0 {
		return models.WindowResult{}, fmt.Errorf("empty window: %w", errdefs.ErrOracle)
	}
	parts := []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: Prompt(w)}}
	for _, p := range w.Pages {
		data, err := render.EncodeJPEG(p.Image, maxImageSide)
		if err != nil {
			return models.WindowResult{}, fmt.Errorf("page %d: %v: %w", p.Index+1, err, errdefs.ErrOracle)
		}
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data),
				Detail: openai.ImageURLDetailHigh,
			},
		})
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{{
			Role:         openai.ChatMessageRoleUser,
			MultiContent: parts,
		}},
	})
	if err != nil {
		return models.WindowResult{}, fmt.Errorf("chat completion for %s: %v: %w", pageLabel(w), err, errdefs.ErrOracle)
	}
	if len(resp.Choices) == 0 {
		return models.WindowResult{}, fmt.Errorf("chat completion for %s: no choices: %w", pageLabel(w), errdefs.ErrOracle)
	}
	o.log.Debug().
		Str("pages", pageLabel(w)).
		Int("prompt_tokens", resp.Usage.PromptTokens).
		Int("completion_tokens", resp.Usage.CompletionTokens).
		Msg("classifier answered")
	return ParseResult(resp.Choices[0].Message.Content)
}
