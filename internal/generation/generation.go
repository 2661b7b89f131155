// Package generation turns a topic into a scored, sanitized blog post.
package generation

import (
	"errors"
	"fmt"

	"github.com/vnmchuo/blog-generator/internal/prompt"
	"github.com/vnmchuo/blog-generator/internal/quality"
)

// ModelKimiK2 is the only model selector that is implemented.
const ModelKimiK2 = "kimi-k2"

var (
	ErrTopicRequired    = errors.New("topic is required")
	ErrUnsupportedModel = errors.New("model not supported")
)

type Request struct {
	Topic     string           `json:"topic"`
	Model     string           `json:"model,omitempty"` // defaults to ModelKimiK2
	Emphasis  *prompt.Emphasis `json:"emphasisSettings,omitempty"`
	Options   *prompt.Options  `json:"options,omitempty"`
	RequestID string           `json:"-"`
}

type Metadata struct {
	Model            string             `json:"model"`
	TokensUsed       int                `json:"tokensUsed"`
	ProcessingTimeMs int64              `json:"processingTime"`
	QualityScore     int                `json:"qualityScore"`
	TableInfo        *quality.TableInfo `json:"tableInfo,omitempty"`
	QuoteInfo        *quality.QuoteInfo `json:"quoteInfo,omitempty"`
}

type Response struct {
	Content  string          `json:"content"` // sanitized HTML
	Metadata Metadata        `json:"metadata"`
	Issues   []quality.Issue `json:"qualityIssues"`
}

// ValidationError reports caller input that was rejected before any upstream call.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }

// Error is a failed generation. The completion error stays inspectable through Unwrap.
type Error struct {
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("failed to generate blog with Kimi K2: %v", e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
