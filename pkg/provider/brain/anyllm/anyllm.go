// Package anyllm provides a brain provider backed by
// github.com/mozilla-ai/any-llm-go, a unified multi-provider interface that
// supports OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, and
// local llama.cpp servers.
//
// Usage:
//
//	p, err := anyllm.New("ollama", "mistral:7b")
//	p, err := anyllm.New("anthropic", "claude-3-5-haiku-latest", anyllm.WithAPIKey("sk-ant-..."))
package anyllm

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/exovoice/exo/pkg/provider/brain"
)

// defaultSystemPrompt mirrors the openai brain package: replies are read
// aloud, keep them short.
const defaultSystemPrompt = "Tu es EXO, un assistant vocal domestique. " +
	"Réponds en une ou deux phrases courtes, prêtes à être lues à voix haute. " +
	"Utilise les outils disponibles pour agir sur la maison quand la commande le demande."

// Provider implements brain.Provider by wrapping any-llm-go.
type Provider struct {
	backend anyllmlib.Provider
	name    string
	model   string
	cfg     config
}

type config struct {
	apiKey       string
	baseURL      string
	systemPrompt string
	temperature  float64
	maxTokens    int
	tools        []brain.Tool
}

// Option is a functional option for Provider.
type Option func(*config)

// WithAPIKey sets the backend API key. Without it the backend falls back to
// its environment variable (OPENAI_API_KEY, ANTHROPIC_API_KEY, ...).
func WithAPIKey(key string) Option {
	return func(c *config) { c.apiKey = key }
}

// WithBaseURL overrides the backend endpoint.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
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

// New creates a Provider backed by the given backend name, one of: openai,
// anthropic, gemini, ollama, deepseek, mistral, groq, llamacpp, llamafile.
func New(backendName string, model string, opts ...Option) (*Provider, error) {
	if backendName == "" {
		return nil, fmt.Errorf("anyllm: backendName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	cfg := config{systemPrompt: defaultSystemPrompt}
	for _, o := range opts {
		o(&cfg)
	}

	var libOpts []anyllmlib.Option
	if cfg.apiKey != "" {
		libOpts = append(libOpts, anyllmlib.WithAPIKey(cfg.apiKey))
	}
	if cfg.baseURL != "" {
		libOpts = append(libOpts, anyllmlib.WithBaseURL(cfg.baseURL))
	}

	backend, err := createBackend(backendName, libOpts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", backendName, err)
	}

	return &Provider{
		backend: backend,
		name:    "anyllm-" + strings.ToLower(backendName),
		model:   model,
		cfg:     cfg,
	}, nil
}

func createBackend(name string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(name) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported backend %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq, llamacpp, llamafile", name)
	}
}

// Process implements brain.Provider.
func (p *Provider) Process(ctx context.Context, req brain.Request) (*brain.Reply, error) {
	if req.Text == "" {
		return nil, fmt.Errorf("anyllm: empty command text")
	}

	resp, err := p.backend.Completion(ctx, p.buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anyllm: empty choices in response")
	}

	choice := resp.Choices[0]
	reply := &brain.Reply{Text: choice.Message.ContentString()}
	for _, tc := range choice.Message.ToolCalls {
		reply.Actions = append(reply.Actions, brain.Action{
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return reply, nil
}

// Name implements brain.Provider.
func (p *Provider) Name() string { return p.name }

// Close implements brain.Provider.
func (p *Provider) Close() error { return nil }

// buildParams converts a brain.Request into anyllm CompletionParams.
func (p *Provider) buildParams(req brain.Request) anyllmlib.CompletionParams {
	messages := []anyllmlib.Message{
		{Role: anyllmlib.RoleSystem, Content: p.cfg.systemPrompt},
	}
	if req.Room != "" {
		messages = append(messages, anyllmlib.Message{
			Role:    anyllmlib.RoleSystem,
			Content: fmt.Sprintf("La commande vient de la pièce: %s.", req.Room),
		})
	}

	for _, ex := range req.History {
		messages = append(messages,
			anyllmlib.Message{Role: anyllmlib.RoleUser, Content: ex.Command},
			anyllmlib.Message{Role: anyllmlib.RoleAssistant, Content: ex.Reply},
		)
	}
	messages = append(messages, anyllmlib.Message{
		Role:    anyllmlib.RoleUser,
		Content: req.Text,
	})

	params := anyllmlib.CompletionParams{
		Model:    p.model,
		Messages: messages,
	}

	if p.cfg.temperature != 0 {
		t := p.cfg.temperature
		params.Temperature = &t
	}
	if p.cfg.maxTokens > 0 {
		mt := p.cfg.maxTokens
		params.MaxTokens = &mt
	}

	for _, tool := range p.cfg.tools {
		params.Tools = append(params.Tools, anyllmlib.Tool{
			Type: "function",
			Function: anyllmlib.Function{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}

	return params
}

// Ensure Provider implements brain.Provider at compile time.
var _ brain.Provider = (*Provider)(nil)
