package moonshot

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog/log"
	"github.com/vnmchuo/blog-generator/internal/provider"
)

const (
	DefaultBaseURL = "https://api.moonshot.ai/v1"
	DefaultModel   = "kimi-k2-turbo-preview"

	validationTimeout = 30 * time.Second
)

type Config struct {
	APIKey            string
	BaseURL           string
	Model             string
	Temperature       float64
	MaxTokens         int
	StreamIdleTimeout time.Duration // 0 disables the idle watchdog
	HTTPClient        *http.Client  // optional
}

// Provider talks to the Moonshot chat completions endpoint, which speaks the OpenAI wire format.
type Provider struct {
	client      openai.Client
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	idleTimeout time.Duration

	// jitter is added to the backoff after a rate-limited attempt
	jitter func() time.Duration
}

func New(cfg Config) *Provider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(baseURL),
		// Complete drives retries itself
		option.WithMaxRetries(0),
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &Provider{
		client:      openai.NewClient(opts...),
		baseURL:     baseURL,
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		idleTimeout: cfg.StreamIdleTimeout,
		jitter:      randomJitter,
	}
}

func randomJitter() time.Duration {
	return time.Duration(rand.Int64N(int64(time.Second)))
}

func (p *Provider) Name() string {
	return "moonshot"
}

func (p *Provider) Model() string {
	return p.model
}

func (p *Provider) BaseURL() string {
	return p.baseURL
}

func (p *Provider) Complete(ctx context.Context, req *provider.Request, opts provider.Options) (*provider.Response, error) {
	params := p.mapRequest(req)

	var resp *provider.Response
	attempts, err := p.retry(ctx, opts, func(attemptCtx context.Context) error {
		start := time.Now()
		completion, err := p.client.Chat.Completions.New(attemptCtx, params)
		if err != nil {
			return err
		}
		if len(completion.Choices) == 0 {
			return errors.New("moonshot api returned no choices")
		}
		resp = mapResponse(completion, time.Since(start))
		return nil
	})
	if err != nil {
		return nil, &provider.CompletionError{Attempts: attempts, Err: err}
	}

	log.Debug().
		Str("request_id", req.RequestID).
		Int("attempts", attempts).
		Int("total_tokens", resp.Usage.TotalTokens).
		Int64("latency_ms", resp.LatencyMs).
		Msg("completion finished")

	return resp, nil
}

func (p *Provider) mapRequest(req *provider.Request) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case provider.RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		case provider.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	model := req.Model
	if model == "" {
		model = p.model
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = p.temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.maxTokens
	}

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(model),
		Messages:    messages,
		Temperature: openai.Float(temperature),
	}
	if maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(maxTokens))
	}
	return params
}

func mapResponse(c *openai.ChatCompletion, latency time.Duration) *provider.Response {
	choices := make([]provider.Choice, len(c.Choices))
	for i, ch := range c.Choices {
		choices[i] = provider.Choice{
			Content:      ch.Message.Content,
			FinishReason: ch.FinishReason,
		}
	}

	return &provider.Response{
		ID:      c.ID,
		Model:   c.Model,
		Choices: choices,
		Usage: provider.Usage{
			PromptTokens:     int(c.Usage.PromptTokens),
			CompletionTokens: int(c.Usage.CompletionTokens),
			TotalTokens:      int(c.Usage.TotalTokens),
		},
		LatencyMs: latency.Milliseconds(),
	}
}

func (p *Provider) CompleteStream(ctx context.Context, req *provider.Request) (<-chan *provider.Chunk, error) {
	params := p.mapRequest(req)

	streamCtx, cancel := context.WithCancel(ctx)

	// The request is executed here, so HTTP level failures surface before any chunk.
	stream := p.client.Chat.Completions.NewStreaming(streamCtx, params)
	if err := stream.Err(); err != nil {
		cancel()
		_ = stream.Close()
		return nil, &provider.StreamingError{Err: normalize(err)}
	}

	var idle atomic.Bool
	var watchdog *time.Timer
	if p.idleTimeout > 0 {
		watchdog = time.AfterFunc(p.idleTimeout, func() {
			idle.Store(true)
			cancel()
		})
	}

	ch := make(chan *provider.Chunk)

	go func() {
		defer close(ch)
		defer cancel()
		defer stream.Close()
		if watchdog != nil {
			defer watchdog.Stop()
		}

		send := func(c *provider.Chunk) bool {
			select {
			case ch <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		// Only time spent waiting on upstream counts towards the idle timeout.
		for stream.Next() {
			if watchdog != nil {
				watchdog.Stop()
			}
			chunk := stream.Current()
			if len(chunk.Choices) > 0 {
				if delta := chunk.Choices[0].Delta.Content; delta != "" {
					if !send(&provider.Chunk{Delta: delta}) {
						return
					}
				}
			}
			if watchdog != nil {
				watchdog.Reset(p.idleTimeout)
			}
		}

		switch {
		case idle.Load():
			log.Warn().Str("request_id", req.RequestID).Dur("idle_timeout", p.idleTimeout).Msg("stream went idle")
			send(&provider.Chunk{Err: provider.ErrStreamIdle})
		case ctx.Err() != nil:
			// caller went away
		case stream.Err() != nil:
			send(&provider.Chunk{Err: normalize(stream.Err())})
		default:
			send(&provider.Chunk{Done: true})
		}
	}()

	return ch, nil
}

// CheckCredential sends a tiny request with no retries and returns the upstream response.
func (p *Provider) CheckCredential(ctx context.Context) (*provider.Response, error) {
	req := &provider.Request{
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: "You are Kimi, an AI assistant provided by Moonshot AI."},
			{Role: provider.RoleUser, Content: `Say "API key is valid" if you can read this.`},
		},
		MaxTokens: 10,
	}
	return p.Complete(ctx, req, provider.Options{Retries: 0, Timeout: validationTimeout})
}

// ValidateCredential reports whether the configured key is accepted.
func (p *Provider) ValidateCredential(ctx context.Context) bool {
	if _, err := p.CheckCredential(ctx); err != nil {
		log.Debug().Err(err).Msg("credential validation failed")
		return false
	}
	return true
}

// normalize converts SDK errors into provider errors and leaves everything else untouched.
func normalize(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		code := apiErr.Code
		if code == "" {
			code = apiErr.Type
		}
		return &provider.APIError{
			StatusCode: apiErr.StatusCode,
			Code:       code,
			Message:    apiErr.Message,
		}
	}
	return err
}

var _ provider.Client = (*Provider)(nil)

func (p *Provider) String() string {
	return fmt.Sprintf("moonshot(%s @ %s)", p.model, p.baseURL)
}
