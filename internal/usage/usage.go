// Package usage records token and latency counters per generation. Generated
// content is never stored.
package usage

import (
	"context"
	"time"
)

type Record struct {
	ID               string    `json:"id"`
	RequestID        string    `json:"requestId"`
	Model            string    `json:"model"`
	PromptTokens     int       `json:"promptTokens"`
	CompletionTokens int       `json:"completionTokens"`
	TotalTokens      int       `json:"totalTokens"`
	ProcessingMs     int64     `json:"processingMs"`
	QualityScore     int       `json:"qualityScore"` // 0 for streamed generations, which are never scored
	Streamed         bool      `json:"streamed"`
	CreatedAt        time.Time `json:"createdAt"`
}

type Summary struct {
	From             time.Time `json:"from"`
	To               time.Time `json:"to"`
	Requests         int64     `json:"requests"`
	StreamedRequests int64     `json:"streamedRequests"`
	PromptTokens     int64     `json:"promptTokens"`
	CompletionTokens int64     `json:"completionTokens"`
	TotalTokens      int64     `json:"totalTokens"`
	AvgProcessingMs  float64   `json:"avgProcessingMs"`
	AvgQualityScore  float64   `json:"avgQualityScore"` // buffered generations only
}

type Store interface {
	Record(ctx context.Context, r *Record) error
	List(ctx context.Context, from, to time.Time) ([]*Record, error)
	Summarize(ctx context.Context, from, to time.Time) (*Summary, error)
}

// NopStore is used when no database is configured.
type NopStore struct{}

func (NopStore) Record(ctx context.Context, r *Record) error { return nil }

func (NopStore) List(ctx context.Context, from, to time.Time) ([]*Record, error) {
	return nil, nil
}

func (NopStore) Summarize(ctx context.Context, from, to time.Time) (*Summary, error) {
	return &Summary{From: from, To: to}, nil
}
