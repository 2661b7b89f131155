package generation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vnmchuo/blog-generator/internal/prompt"
	"github.com/vnmchuo/blog-generator/internal/provider"
	"github.com/vnmchuo/blog-generator/internal/quality"
	"github.com/vnmchuo/blog-generator/internal/render"
	"github.com/vnmchuo/blog-generator/internal/rewrite"
	"github.com/vnmchuo/blog-generator/internal/sanitize"
	"github.com/vnmchuo/blog-generator/internal/usage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Config struct {
	// SimplePrompt swaps the full system prompt for the minimal diagnostic one.
	SimplePrompt bool
	// Rewrite runs the perspective and tone rewrite rules over the rendered HTML.
	Rewrite    bool
	Completion provider.Options
}

type Service struct {
	client   provider.Client
	prompts  prompt.Builder
	renderer *render.Renderer
	policy   *sanitize.Policy
	usage    usage.Store
	tracer   trace.Tracer
	cfg      Config

	pending sync.WaitGroup
	now     func() time.Time
}

func NewService(client provider.Client, store usage.Store, tracer trace.Tracer, cfg Config) *Service {
	if store == nil {
		store = usage.NopStore{}
	}
	return &Service{
		client:   client,
		prompts:  prompt.Builder{Simple: cfg.SimplePrompt},
		renderer: render.New(),
		policy:   sanitize.DefaultPolicy(),
		usage:    store,
		tracer:   tracer,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Wait blocks until every pending usage record has been written.
func (s *Service) Wait() {
	s.pending.Wait()
}

// Generate runs the buffered pipeline: prompt, completion, render, sanitize and score.
func (s *Service) Generate(ctx context.Context, req *Request) (*Response, error) {
	start := s.now()

	req, err := s.resolve(req)
	if err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "generation.generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("request_id", req.RequestID),
		attribute.String("model", req.Model),
	)

	messages := s.buildMessages(ctx, req)

	cctx, cspan := s.tracer.Start(ctx, "generation.complete")
	resp, err := s.client.Complete(cctx, &provider.Request{Messages: messages, RequestID: req.RequestID}, s.cfg.Completion)
	if err != nil {
		cspan.RecordError(err)
		cspan.SetStatus(codes.Error, err.Error())
		cspan.End()
		span.SetStatus(codes.Error, "completion failed")
		log.Error().Err(err).Str("request_id", req.RequestID).Msg("blog generation failed")
		return nil, &Error{Err: err}
	}
	cspan.SetAttributes(
		attribute.String("upstream_model", resp.Model),
		attribute.Int("prompt_tokens", resp.Usage.PromptTokens),
		attribute.Int("completion_tokens", resp.Usage.CompletionTokens),
	)
	cspan.End()

	markdown := resp.Content()
	content := s.transform(ctx, markdown)

	_, vspan := s.tracer.Start(ctx, "generation.validate")
	report := quality.Analyze(quality.Document{Markdown: markdown, HTML: content})
	vspan.SetAttributes(
		attribute.Int("quality_score", report.Score),
		attribute.Int("issues", len(report.Issues)),
	)
	vspan.End()

	elapsed := s.now().Sub(start)
	span.SetAttributes(
		attribute.Int("tokens_used", resp.Usage.TotalTokens),
		attribute.Int("quality_score", report.Score),
	)

	s.record(&usage.Record{
		RequestID:        req.RequestID,
		Model:            resp.Model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
		ProcessingMs:     elapsed.Milliseconds(),
		QualityScore:     report.Score,
	})

	log.Info().
		Str("request_id", req.RequestID).
		Int("tokens", resp.Usage.TotalTokens).
		Int("quality_score", report.Score).
		Dur("elapsed", elapsed).
		Msg("blog generated")

	return &Response{
		Content: content,
		Metadata: Metadata{
			Model:            req.Model,
			TokensUsed:       resp.Usage.TotalTokens,
			ProcessingTimeMs: elapsed.Milliseconds(),
			QualityScore:     report.Score,
			TableInfo:        &report.Tables,
			QuoteInfo:        &report.Quotes,
		},
		Issues: report.Issues,
	}, nil
}

// GenerateStream forwards raw model text as it arrives. Nothing is rendered, sanitized or scored.
// The channel closes when the upstream stream ends, fails or ctx is cancelled; a mid-stream
// failure is logged and simply truncates the output.
func (s *Service) GenerateStream(ctx context.Context, req *Request) (<-chan string, error) {
	start := s.now()

	req, err := s.resolve(req)
	if err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "generation.stream")
	span.SetAttributes(
		attribute.String("request_id", req.RequestID),
		attribute.String("model", req.Model),
	)

	messages := s.buildMessages(ctx, req)
	upstream, err := s.client.CompleteStream(ctx, &provider.Request{Messages: messages, RequestID: req.RequestID})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stream setup failed")
		span.End()
		log.Error().Err(err).Str("request_id", req.RequestID).Msg("streaming generation failed")
		return nil, &Error{Err: err}
	}

	promptText := joinContent(messages)
	out := make(chan string)

	go func() {
		defer close(out)
		defer span.End()

		var sb strings.Builder
		var streamErr error
	loop:
		for chunk := range upstream {
			if chunk.Err != nil {
				streamErr = chunk.Err
				break
			}
			if chunk.Delta != "" {
				sb.WriteString(chunk.Delta)
				select {
				case out <- chunk.Delta:
				case <-ctx.Done():
					break loop
				}
			}
			if chunk.Done {
				break
			}
		}

		elapsed := s.now().Sub(start)
		promptTokens := provider.EstimateTokens(promptText)
		completionTokens := provider.EstimateTokens(sb.String())
		span.SetAttributes(attribute.Int("estimated_tokens", promptTokens+completionTokens))

		switch {
		case streamErr != nil:
			span.RecordError(streamErr)
			span.SetStatus(codes.Error, "stream terminated")
			log.Warn().Err(streamErr).Str("request_id", req.RequestID).Int("bytes", sb.Len()).Msg("stream terminated early")
		case ctx.Err() != nil:
			log.Info().Str("request_id", req.RequestID).Msg("stream cancelled by client")
		default:
			log.Info().Str("request_id", req.RequestID).Int("bytes", sb.Len()).Dur("elapsed", elapsed).Msg("stream completed")
		}

		s.record(&usage.Record{
			RequestID:        req.RequestID,
			Model:            req.Model,
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
			ProcessingMs:     elapsed.Milliseconds(),
			Streamed:         true,
		})
	}()

	return out, nil
}

// resolve validates req and returns a copy with the model and request id defaults filled in.
func (s *Service) resolve(req *Request) (*Request, error) {
	if req == nil || strings.TrimSpace(req.Topic) == "" {
		return nil, &ValidationError{Err: ErrTopicRequired}
	}
	resolved := *req
	if resolved.Model == "" {
		resolved.Model = ModelKimiK2
	}
	if resolved.Model != ModelKimiK2 {
		return nil, &ValidationError{Err: fmt.Errorf("%w: %q", ErrUnsupportedModel, resolved.Model)}
	}
	if resolved.RequestID == "" {
		resolved.RequestID = uuid.New().String()
	}
	return &resolved, nil
}

func (s *Service) buildMessages(ctx context.Context, req *Request) []provider.Message {
	_, span := s.tracer.Start(ctx, "generation.prompt")
	defer span.End()

	messages := s.prompts.Messages(req.Topic, req.Options, req.Emphasis)
	span.SetAttributes(attribute.Bool("simple", s.cfg.SimplePrompt))
	return messages
}

// transform renders Markdown, optionally rewrites it and sanitizes the result.
func (s *Service) transform(ctx context.Context, markdown string) string {
	_, rspan := s.tracer.Start(ctx, "generation.render")
	html := s.renderer.Render(markdown)
	rspan.End()

	if s.cfg.Rewrite {
		_, wspan := s.tracer.Start(ctx, "generation.rewrite")
		html = rewrite.Apply(html)
		wspan.End()
	}

	_, sspan := s.tracer.Start(ctx, "generation.sanitize")
	defer sspan.End()
	return s.policy.Sanitize(html)
}

func (s *Service) record(r *usage.Record) {
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := s.usage.Record(context.Background(), r); err != nil {
			log.Error().Err(err).Str("request_id", r.RequestID).Msg("failed to record usage")
		}
	}()
}

func joinContent(messages []provider.Message) string {
	var sb strings.Builder
	for _, m := range messages {
		sb.WriteString(m.Content)
	}
	return sb.String()
}
