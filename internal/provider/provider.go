package provider

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Request struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float64
	// RequestID is carried for logging and tracing only
	RequestID string
}

type Message struct {
	Role    string // "system", "user", "assistant"
	Content string
}

type Choice struct {
	Content      string
	FinishReason string
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

type Response struct {
	ID        string
	Model     string
	Choices   []Choice
	Usage     Usage // zero when the provider omits usage data
	LatencyMs int64
}

// Content returns the first choice's message content, or "" when there is none.
func (r *Response) Content() string {
	if r == nil || len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Content
}

type Chunk struct {
	Delta string
	Done  bool
	Err   error
}

// Options controls the retry policy of a single Complete call.
type Options struct {
	Retries    int           // additional attempts after the first one
	RetryDelay time.Duration // base delay, doubled after every failed attempt
	Timeout    time.Duration // per attempt
}

func DefaultOptions() Options {
	return Options{
		Retries:    3,
		RetryDelay: time.Second,
		Timeout:    120 * time.Second,
	}
}

type Client interface {
	// Complete returns a *CompletionError once retries are exhausted or a fatal error is hit.
	Complete(ctx context.Context, req *Request, opts Options) (*Response, error)
	// CompleteStream fails synchronously with a *StreamingError only when the stream cannot be
	// opened. Later failures arrive as a terminal Chunk with Err set. Cancelling ctx stops the
	// stream without an error chunk.
	CompleteStream(ctx context.Context, req *Request) (<-chan *Chunk, error)
	// ValidateCredential issues a minimal zero-retry request and reports whether it succeeded.
	ValidateCredential(ctx context.Context) bool
	Name() string
}

// charsPerToken is a rough ratio for English text.
const charsPerToken = 4

// EstimateTokens approximates the token count of text. Diagnostics only.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + charsPerToken - 1) / charsPerToken
}

var ErrStreamIdle = errors.New("stream idle timeout: no chunk received")

// APIError is an upstream HTTP failure normalised away from any SDK type.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error (status %d, %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error (status %d): %s", e.StatusCode, e.Message)
}

type CompletionError struct {
	Attempts int
	Err      error
}

func (e *CompletionError) Error() string {
	return fmt.Sprintf("completion failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *CompletionError) Unwrap() error { return e.Err }

type StreamingError struct {
	Err error
}

func (e *StreamingError) Error() string {
	return fmt.Sprintf("failed to create streaming completion: %v", e.Err)
}

func (e *StreamingError) Unwrap() error { return e.Err }
