// Package openai provides a brain provider backed by the OpenAI chat
// completions API.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/exovoice/exo/pkg/provider/brain"
)

// defaultSystemPrompt frames the model as a terse spoken assistant. Replies
// are read aloud, so verbosity is expensive.
const defaultSystemPrompt = "Tu es EXO, un assistant vocal domestique. " +
	"Réponds en une ou deux phrases courtes, prêtes à être lues à voix haute. " +
	"Utilise les outils disponibles pour agir sur la maison quand la commande le demande."

// Provider implements brain.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
	cfg    config
}

type config struct {
	baseURL      string
	timeout      time.Duration
	systemPrompt string
	temperature  float64
	maxTokens    int
	tools        []brain.Tool
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Useful for
// OpenAI-compatible local servers.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithSystemPrompt replaces the default assistant framing.
func WithSystemPrompt(prompt string) Option {
	return func(c *config) { c.systemPrompt = prompt }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(c *config) { c.temperature = t }
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int) Option {
	return func(c *config) { c.maxTokens = n }
}

// WithTools offers the given actions to the model as callable functions.
func WithTools(tools []brain.Tool) Option {
	return func(c *config) { c.tools = tools }
}

// New constructs an OpenAI brain provider.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	cfg := config{systemPrompt: defaultSystemPrompt}
	for _, o := range opts {
		o(&cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Provider{
		client: oai.NewClient(reqOpts...),
		model:  model,
		cfg:    cfg,
	}, nil
}

// Process implements brain.Provider.
func (p *Provider) Process(ctx context.Context, req brain.Request) (*brain.Reply, error) {
	if req.Text == "" {
		return nil, fmt.Errorf("openai: empty command text")
	}

	resp, err := p.client.Chat.Completions.New(ctx, p.buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: empty choices in response")
	}

	choice := resp.Choices[0]
	reply := &brain.Reply{Text: choice.Message.Content}
	for _, tc := range choice.Message.ToolCalls {
		reply.Actions = append(reply.Actions, brain.Action{
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return reply, nil
}

// Name implements brain.Provider.
func (p *Provider) Name() string { return "openai" }

// Close implements brain.Provider. The SDK client holds no resources that
// outlive requests.
func (p *Provider) Close() error { return nil }

// buildParams converts a brain.Request into OpenAI SDK params.
func (p *Provider) buildParams(req brain.Request) oai.ChatCompletionNewParams {
	messages := []oai.ChatCompletionMessageParamUnion{
		oai.SystemMessage(p.cfg.systemPrompt),
	}
	if req.Room != "" {
		messages = append(messages, oai.SystemMessage(
			fmt.Sprintf("La commande vient de la pièce: %s.", req.Room)))
	}

	for _, ex := range req.History {
		messages = append(messages,
			oai.UserMessage(ex.Command),
			oai.AssistantMessage(ex.Reply),
		)
	}
	messages = append(messages, oai.UserMessage(req.Text))

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: messages,
	}

	if p.cfg.temperature != 0 {
		params.Temperature = param.NewOpt(p.cfg.temperature)
	}
	if p.cfg.maxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(p.cfg.maxTokens))
	}

	for _, tool := range p.cfg.tools {
		params.Tools = append(params.Tools, oai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        tool.Name,
				Description: param.NewOpt(tool.Description),
				Parameters:  shared.FunctionParameters(tool.Parameters),
			},
		})
	}

	return params
}

// Ensure Provider implements brain.Provider at compile time.
var _ brain.Provider = (*Provider)(nil)
