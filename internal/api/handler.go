package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/vnmchuo/blog-generator/internal/generation"
	"github.com/vnmchuo/blog-generator/internal/prompt"
	"github.com/vnmchuo/blog-generator/internal/provider"
	"github.com/vnmchuo/blog-generator/internal/quality"
	"github.com/vnmchuo/blog-generator/internal/usage"
	"github.com/vnmchuo/blog-generator/pkg/ratelimit"
	"golang.org/x/sync/singleflight"
)

type Generator interface {
	Generate(ctx context.Context, req *generation.Request) (*generation.Response, error)
	GenerateStream(ctx context.Context, req *generation.Request) (<-chan string, error)
}

type CredentialChecker interface {
	CheckCredential(ctx context.Context) (*provider.Response, error)
}

// Credentials describes the configured upstream and how to probe a caller supplied key.
type Credentials struct {
	Client     provider.Client
	Model      string
	BaseURL    string
	NewChecker func(apiKey string) CredentialChecker
}

type Handler struct {
	generator        Generator
	usage            usage.Store
	limiter          *ratelimit.Limiter
	credentials      Credentials
	tokensPerRequest int

	validate *validator.Validate
	health   singleflight.Group
}

func NewHandler(gen Generator, store usage.Store, limiter *ratelimit.Limiter, creds Credentials, tokensPerRequest int) *Handler {
	if store == nil {
		store = usage.NopStore{}
	}
	return &Handler{
		generator:        gen,
		usage:            store,
		limiter:          limiter,
		credentials:      creds,
		tokensPerRequest: tokensPerRequest,
		validate:         validator.New(validator.WithRequiredStructEnabled()),
	}
}

type generateRequest struct {
	Topic    string           `json:"topic" validate:"required_without=Prompt"`
	Prompt   string           `json:"prompt"` // legacy alias for topic
	Model    string           `json:"model"`
	Emphasis *prompt.Emphasis `json:"emphasisSettings"`
	Options  *prompt.Options  `json:"options"`
	Stream   bool             `json:"stream"`
}

type validateRequest struct {
	APIKey string `json:"apiKey" validate:"required"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Debug().Err(err).Msg("failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "blog-generator"})
}

func (h *Handler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	var body generateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	body.Topic = strings.TrimSpace(body.Topic)
	body.Prompt = strings.TrimSpace(body.Prompt)
	if err := h.validate.Struct(body); err != nil {
		log.Warn().Err(err).Msg("generate request validation failed")
		writeError(w, http.StatusBadRequest, generation.ErrTopicRequired.Error())
		return
	}

	topic := body.Topic
	if topic == "" {
		topic = body.Prompt
	}
	req := &generation.Request{
		Topic:     topic,
		Model:     body.Model,
		Emphasis:  body.Emphasis,
		Options:   body.Options,
		RequestID: GetRequestID(ctx),
	}

	allowed, err := h.limiter.Allow(ctx, clientID(r), h.tokensPerRequest)
	if err != nil {
		log.Error().Err(err).Msg("rate limiter unavailable")
	}
	if err != nil || !allowed {
		out := map[string]any{
			"error":       "rate limit exceeded",
			"retry_after": "60s",
		}
		if err == nil {
			if status, serr := h.limiter.Status(ctx, clientID(r)); serr == nil && status != nil {
				out["remaining"] = status.Remaining
				out["limit"] = status.Limit
			}
		}
		w.Header().Set("Retry-After", "60s")
		writeJSON(w, http.StatusTooManyRequests, out)
		return
	}

	if body.Stream {
		h.stream(w, r, req)
		return
	}

	resp, err := h.generator.Generate(ctx, req)
	if err != nil {
		var vErr *generation.ValidationError
		if errors.As(err, &vErr) {
			writeError(w, http.StatusBadRequest, vErr.Error())
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":          "Failed to generate blog content",
			"details":        err.Error(),
			"processingTime": time.Since(start).Milliseconds(),
		})
		return
	}

	issues := resp.Issues
	if issues == nil {
		issues = []quality.Issue{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"content":        resp.Content,
		"metadata":       resp.Metadata,
		"qualityScore":   resp.Metadata.QualityScore,
		"qualityIssues":  issues,
		"processingTime": time.Since(start).Milliseconds(),
	})
}

// stream writes raw model text with no framing, flushing after every chunk.
func (h *Handler) stream(w http.ResponseWriter, r *http.Request, req *generation.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ch, err := h.generator.GenerateStream(r.Context(), req)
	if err != nil {
		var vErr *generation.ValidationError
		if errors.As(err, &vErr) {
			writeError(w, http.StatusBadRequest, vErr.Error())
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":   "Streaming generation failed",
			"details": err.Error(),
		})
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for text := range ch {
		if _, err := w.Write([]byte(text)); err != nil {
			log.Debug().Err(err).Str("request_id", req.RequestID).Msg("client went away")
			break
		}
		flusher.Flush()
	}
}

// HandleValidateKey probes a caller supplied key with a single zero-retry request.
func (h *Handler) HandleValidateKey(w http.ResponseWriter, r *http.Request) {
	var body validateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(body); err != nil {
		writeError(w, http.StatusBadRequest, "API key is required")
		return
	}

	resp, err := h.credentials.NewChecker(body.APIKey).CheckCredential(r.Context())
	if err != nil {
		log.Warn().Err(err).Msg("api key validation failed")
		out := map[string]any{"valid": false, "error": err.Error()}
		var apiErr *provider.APIError
		if errors.As(err, &apiErr) {
			out["status"] = apiErr.StatusCode
		}
		writeJSON(w, http.StatusBadRequest, out)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"valid":   true,
		"message": "API key is valid",
		"model":   resp.Model,
		"usage": map[string]int{
			"prompt_tokens":     resp.Usage.PromptTokens,
			"completion_tokens": resp.Usage.CompletionTokens,
			"total_tokens":      resp.Usage.TotalTokens,
		},
	})
}

// HandleCredentialHealth reports whether the configured key works. Concurrent checks share one upstream call.
func (h *Handler) HandleCredentialHealth(w http.ResponseWriter, r *http.Request) {
	configured := h.credentials.Client != nil
	valid := false
	if configured {
		v, _, _ := h.health.Do("configured", func() (any, error) {
			return h.credentials.Client.ValidateCredential(context.WithoutCancel(r.Context())), nil
		})
		valid = v.(bool)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"configured": configured,
		"valid":      valid,
		"model":      h.credentials.Model,
		"baseURL":    h.credentials.BaseURL,
	})
}

func (h *Handler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	now := time.Now()
	from := now.AddDate(0, 0, -30) // default: last 30 days
	to := now

	if s := r.URL.Query().Get("from"); s != "" {
		var err error
		from, err = time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'from' date format (use RFC3339)")
			return
		}
	}
	if s := r.URL.Query().Get("to"); s != "" {
		var err error
		to, err = time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'to' date format (use RFC3339)")
			return
		}
	}

	summary, err := h.usage.Summarize(ctx, from, to)
	if err != nil {
		log.Error().Err(err).Msg("failed to summarize usage")
		writeError(w, http.StatusInternalServerError, "failed to load usage")
		return
	}

	records, err := h.usage.List(ctx, from, to)
	if err != nil {
		log.Error().Err(err).Msg("failed to list usage")
		writeError(w, http.StatusInternalServerError, "failed to load usage")
		return
	}
	if records == nil {
		records = []*usage.Record{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"summary": summary,
		"records": records,
	})
}
