package moonshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vnmchuo/blog-generator/internal/provider"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	p := New(Config{
		APIKey:      "test-key",
		BaseURL:     server.URL + "/v1",
		Model:       "kimi-test",
		Temperature: 0.6,
		MaxTokens:   100,
	})
	p.jitter = func() time.Duration { return 0 }
	return p
}

func writeCompletion(w http.ResponseWriter, content string) {
	body := map[string]any{
		"id":      "cmpl-1",
		"object":  "chat.completion",
		"created": 1,
		"model":   "kimi-test",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]string{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
		"usage": map[string]int{"prompt_tokens": 12, "completion_tokens": 34, "total_tokens": 46},
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(body)
}

func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"message": message, "type": code, "code": code},
	})
}

func writeStream(w http.ResponseWriter, deltas ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	flusher := w.(http.Flusher)
	for _, d := range deltas {
		writeStreamChunk(w, d)
		flusher.Flush()
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func writeStreamChunk(w http.ResponseWriter, delta string) {
	chunk, _ := json.Marshal(map[string]any{
		"id":      "chunk-1",
		"object":  "chat.completion.chunk",
		"created": 1,
		"model":   "kimi-test",
		"choices": []map[string]any{{"index": 0, "delta": map[string]string{"content": delta}}},
	})
	fmt.Fprintf(w, "data: %s\n\n", chunk)
}

func userRequest() *provider.Request {
	return &provider.Request{
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: "be brief"},
			{Role: provider.RoleUser, Content: "hi"},
		},
	}
}

func TestComplete_Success(t *testing.T) {
	var got map[string]any
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeCompletion(w, "Hello from Kimi")
	})

	resp, err := p.Complete(context.Background(), userRequest(), provider.DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, "Hello from Kimi", resp.Content())
	assert.Equal(t, "stop", resp.Choices[0].FinishReason)
	assert.Equal(t, 12, resp.Usage.PromptTokens)
	assert.Equal(t, 34, resp.Usage.CompletionTokens)
	assert.Equal(t, 46, resp.Usage.TotalTokens)

	assert.Equal(t, "kimi-test", got["model"])
	assert.InDelta(t, 0.6, got["temperature"], 1e-9)
	assert.EqualValues(t, 100, got["max_tokens"])
	messages := got["messages"].([]any)
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].(map[string]any)["role"])
	assert.Equal(t, "user", messages[1].(map[string]any)["role"])
}

func TestComplete_RequestOverridesDefaults(t *testing.T) {
	var got map[string]any
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeCompletion(w, "ok")
	})

	req := userRequest()
	req.Model = "kimi-other"
	req.MaxTokens = 10
	req.Temperature = 0.2
	_, err := p.Complete(context.Background(), req, provider.DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, "kimi-other", got["model"])
	assert.EqualValues(t, 10, got["max_tokens"])
	assert.InDelta(t, 0.2, got["temperature"], 1e-9)
}

func TestComplete_RetriesWithExponentialBackoff(t *testing.T) {
	var calls atomic.Int32
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			writeAPIError(w, http.StatusInternalServerError, "server_error", "try later")
			return
		}
		writeCompletion(w, "finally")
	})

	delay := 40 * time.Millisecond
	start := time.Now()
	resp, err := p.Complete(context.Background(), userRequest(), provider.Options{Retries: 3, RetryDelay: delay, Timeout: 5 * time.Second})
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, "finally", resp.Content())
	assert.Equal(t, int32(3), calls.Load())
	assert.GreaterOrEqual(t, elapsed, delay+2*delay)
}

func TestComplete_ExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeAPIError(w, http.StatusBadGateway, "bad_gateway", "upstream down")
	})

	_, err := p.Complete(context.Background(), userRequest(), provider.Options{Retries: 2, RetryDelay: time.Millisecond, Timeout: 5 * time.Second})
	require.Error(t, err)

	var complErr *provider.CompletionError
	require.True(t, errors.As(err, &complErr))
	assert.Equal(t, 3, complErr.Attempts)
	assert.Equal(t, int32(3), calls.Load())

	var apiErr *provider.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
}

func TestComplete_FatalErrorsAreNotRetried(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		code    string
		message string
	}{
		{"unauthorized", http.StatusUnauthorized, "invalid_authentication_error", "Invalid Authentication"},
		{"forbidden", http.StatusForbidden, "permission_denied_error", "denied"},
		{"model not found", http.StatusNotFound, "resource_not_found_error", "no such model"},
		{"quota exhausted", http.StatusTooManyRequests, "exceeded_current_quota_error", "Your account is suspended"},
		{"quota in message", http.StatusTooManyRequests, "rate_limit_reached_error", "You exceeded your current quota"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				writeAPIError(w, tt.status, tt.code, tt.message)
			})

			_, err := p.Complete(context.Background(), userRequest(), provider.Options{Retries: 3, RetryDelay: time.Millisecond, Timeout: time.Second})
			require.Error(t, err)

			var complErr *provider.CompletionError
			require.True(t, errors.As(err, &complErr))
			assert.Equal(t, 1, complErr.Attempts)
			assert.Equal(t, int32(1), calls.Load())

			var apiErr *provider.APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.StatusCode)
		})
	}
}

func TestComplete_JitterOnlyAfterRateLimit(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		code       string
		wantJitter int32
	}{
		{"rate limited", http.StatusTooManyRequests, "rate_limit_reached_error", 1},
		{"server error", http.StatusInternalServerError, "server_error", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				if calls.Add(1) == 1 {
					writeAPIError(w, tt.status, tt.code, "slow down")
					return
				}
				writeCompletion(w, "ok")
			})
			var jitterCalls atomic.Int32
			p.jitter = func() time.Duration {
				jitterCalls.Add(1)
				return time.Millisecond
			}

			_, err := p.Complete(context.Background(), userRequest(), provider.Options{Retries: 2, RetryDelay: time.Millisecond, Timeout: time.Second})
			require.NoError(t, err)
			assert.Equal(t, int32(2), calls.Load())
			assert.Equal(t, tt.wantJitter, jitterCalls.Load())
		})
	}
}

func TestComplete_AttemptTimeoutIsRetried(t *testing.T) {
	var calls atomic.Int32
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			return
		}
		writeCompletion(w, "second time lucky")
	})

	resp, err := p.Complete(context.Background(), userRequest(), provider.Options{Retries: 1, RetryDelay: time.Millisecond, Timeout: 100 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, "second time lucky", resp.Content())
	assert.Equal(t, int32(2), calls.Load())
}

func TestComplete_TimeoutClearsRateLimitJitter(t *testing.T) {
	var calls atomic.Int32
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			writeAPIError(w, http.StatusTooManyRequests, "rate_limit_reached_error", "slow down")
		case 2:
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		default:
			writeCompletion(w, "ok")
		}
	})
	var jitterCalls atomic.Int32
	p.jitter = func() time.Duration {
		jitterCalls.Add(1)
		return time.Millisecond
	}

	_, err := p.Complete(context.Background(), userRequest(), provider.Options{Retries: 2, RetryDelay: time.Millisecond, Timeout: 100 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, int32(1), jitterCalls.Load(), "only the rate limited attempt earns jitter")
}

func TestComplete_StopsOnCancelledContext(t *testing.T) {
	var calls atomic.Int32
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeAPIError(w, http.StatusInternalServerError, "server_error", "boom")
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Complete(ctx, userRequest(), provider.Options{Retries: 3, RetryDelay: time.Second, Timeout: time.Second})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.LessOrEqual(t, calls.Load(), int32(1))
}

func TestComplete_EmptyChoicesIsAnError(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"x","object":"chat.completion","created":1,"model":"kimi-test","choices":[]}`)
	})

	_, err := p.Complete(context.Background(), userRequest(), provider.Options{Retries: 1, RetryDelay: time.Millisecond, Timeout: time.Second})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}

func isStreamRequest(t *testing.T, r *http.Request) bool {
	var body map[string]any
	require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	stream, _ := body["stream"].(bool)
	return stream
}

func collect(ch <-chan *provider.Chunk) (text string, chunks []*provider.Chunk) {
	var b strings.Builder
	for c := range ch {
		b.WriteString(c.Delta)
		chunks = append(chunks, c)
	}
	return b.String(), chunks
}

func TestCompleteStream_MatchesBufferedContent(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if isStreamRequest(t, r) {
			writeStream(w, "## Title", "\n\nHello, ", "world.")
			return
		}
		writeCompletion(w, "## Title\n\nHello, world.")
	})

	resp, err := p.Complete(context.Background(), userRequest(), provider.DefaultOptions())
	require.NoError(t, err)

	ch, err := p.CompleteStream(context.Background(), userRequest())
	require.NoError(t, err)
	text, chunks := collect(ch)

	assert.Equal(t, resp.Content(), text)
	require.NotEmpty(t, chunks)
	assert.True(t, chunks[len(chunks)-1].Done)
	for _, c := range chunks {
		assert.NoError(t, c.Err)
	}
}

func TestCompleteStream_SetupErrorIsSynchronous(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		writeAPIError(w, http.StatusUnauthorized, "invalid_authentication_error", "Invalid Authentication")
	})

	ch, err := p.CompleteStream(context.Background(), userRequest())
	require.Error(t, err)
	assert.Nil(t, ch)

	var streamErr *provider.StreamingError
	require.True(t, errors.As(err, &streamErr))
	var apiErr *provider.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}

func TestCompleteStream_IdleTimeout(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeStreamChunk(w, "Hello")
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	})
	p.idleTimeout = 100 * time.Millisecond

	ch, err := p.CompleteStream(context.Background(), userRequest())
	require.NoError(t, err)

	text, chunks := collect(ch)
	assert.Equal(t, "Hello", text)
	require.NotEmpty(t, chunks)
	last := chunks[len(chunks)-1]
	assert.ErrorIs(t, last.Err, provider.ErrStreamIdle)
	assert.False(t, last.Done)
}

func TestCompleteStream_SlowConsumerIsNotIdle(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		writeStream(w, "one ", "two ", "three")
	})
	p.idleTimeout = 100 * time.Millisecond

	ch, err := p.CompleteStream(context.Background(), userRequest())
	require.NoError(t, err)

	var b strings.Builder
	var last *provider.Chunk
	for c := range ch {
		b.WriteString(c.Delta)
		last = c
		time.Sleep(250 * time.Millisecond)
	}

	assert.Equal(t, "one two three", b.String())
	require.NotNil(t, last)
	assert.NoError(t, last.Err)
	assert.True(t, last.Done)
}

func TestCompleteStream_CallerCancelEndsQuietly(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeStreamChunk(w, "Hello")
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := p.CompleteStream(ctx, userRequest())
	require.NoError(t, err)

	first := <-ch
	require.NotNil(t, first)
	assert.Equal(t, "Hello", first.Delta)
	cancel()

	_, rest := collect(ch)
	for _, c := range rest {
		assert.NoError(t, c.Err)
		assert.False(t, c.Done)
	}
}

func TestValidateCredential(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		want      bool
		wantCalls int32
	}{
		{"valid key", http.StatusOK, true, 1},
		{"invalid key", http.StatusUnauthorized, false, 1},
		{"server error is not retried", http.StatusInternalServerError, false, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			var maxTokens atomic.Int64
			p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				var body map[string]any
				_ = json.NewDecoder(r.Body).Decode(&body)
				mt, _ := body["max_tokens"].(float64)
				maxTokens.Store(int64(mt))
				if tt.status != http.StatusOK {
					writeAPIError(w, tt.status, "error", "nope")
					return
				}
				writeCompletion(w, "Hi")
			})

			assert.Equal(t, tt.want, p.ValidateCredential(context.Background()))
			assert.Equal(t, tt.wantCalls, calls.Load())
			assert.Equal(t, int64(10), maxTokens.Load())
		})
	}
}

func TestCheckCredential(t *testing.T) {
	var roles []string
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []struct {
				Role string `json:"role"`
			} `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		for _, m := range body.Messages {
			roles = append(roles, m.Role)
		}
		writeCompletion(w, "API key is valid")
	})

	resp, err := p.CheckCredential(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "API key is valid", resp.Content())
	assert.Equal(t, []string{"system", "user"}, roles)
}

func TestCheckCredential_Unauthorized(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		writeAPIError(w, http.StatusUnauthorized, "invalid_authentication_error", "Invalid Authentication")
	})

	_, err := p.CheckCredential(context.Background())
	var apiErr *provider.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}

func TestNew_Defaults(t *testing.T) {
	p := New(Config{APIKey: "k"})
	assert.Equal(t, DefaultModel, p.Model())
	assert.Equal(t, DefaultBaseURL, p.BaseURL())
	assert.Equal(t, "moonshot", p.Name())
}
