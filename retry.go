package deepsearch

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"
)

// retryModel wraps a Model and retries transient HTTP errors (429 Too
// Many Requests, 503 Service Unavailable) with exponential backoff.
// Retry is opt-in provider middleware: the router and the dispatcher
// never retry on their own.
type retryModel struct {
	inner       Model
	maxAttempts int
	baseDelay   time.Duration
	logger      *slog.Logger
}

// RetryOption configures WithRetry.
type RetryOption func(*retryModel)

// RetryMaxAttempts sets the maximum number of attempts (default 3).
func RetryMaxAttempts(n int) RetryOption {
	return func(r *retryModel) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

// RetryBaseDelay sets the initial backoff before the second attempt
// (default 1s). Each subsequent delay doubles.
func RetryBaseDelay(d time.Duration) RetryOption {
	return func(r *retryModel) { r.baseDelay = d }
}

// RetryLogger logs retries at Warn and exhaustion at Error.
func RetryLogger(l *slog.Logger) RetryOption {
	return func(r *retryModel) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithRetry wraps m with automatic retry on transient HTTP errors.
// Compose before handing the model to a router:
//
//	search := deepsearch.WithRetry(litellm.New(base, key, searchID))
func WithRetry(m Model, opts ...RetryOption) Model {
	r := &retryModel{
		inner:       m,
		maxAttempts: 3,
		baseDelay:   time.Second,
		logger:      nopLogger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *retryModel) ID() string { return r.inner.ID() }

func (r *retryModel) Generate(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	var last error
	for i := 0; i < r.maxAttempts; i++ {
		resp, err := r.inner.Generate(ctx, req)
		if err == nil || !transientErr(err) {
			return resp, err
		}
		last = err
		r.logger.Warn("retrying transient model error",
			"model", r.inner.ID(), "attempt", i+1, "max_attempts", r.maxAttempts)
		if i < r.maxAttempts-1 {
			if err := sleepBackoff(ctx, r.baseDelay, i); err != nil {
				return ChatResponse{}, err
			}
		}
	}
	r.logger.Error("retry attempts exhausted", "model", r.inner.ID(), "err", last)
	return ChatResponse{}, last
}

// GenerateStream retries only while no delta has been forwarded yet;
// once streaming started, errors pass through so consumers never see
// duplicate content.
func (r *retryModel) GenerateStream(ctx context.Context, req ChatRequest, ch chan<- Delta) (ChatResponse, error) {
	var last error
	for i := 0; i < r.maxAttempts; i++ {
		mid := make(chan Delta, streamBuffer)
		var (
			resp      ChatResponse
			streamErr error
		)
		done := make(chan struct{})
		go func() {
			defer close(done)
			resp, streamErr = r.inner.GenerateStream(ctx, req, mid)
			close(mid)
		}()

		var forwarded bool
		for d := range mid {
			forwarded = true
			select {
			case ch <- d:
			case <-ctx.Done():
			}
		}
		<-done

		if streamErr == nil || !transientErr(streamErr) || forwarded {
			return resp, streamErr
		}
		last = streamErr
		r.logger.Warn("retrying transient model error (stream)",
			"model", r.inner.ID(), "attempt", i+1, "max_attempts", r.maxAttempts)
		if i < r.maxAttempts-1 {
			if err := sleepBackoff(ctx, r.baseDelay, i); err != nil {
				return ChatResponse{}, err
			}
		}
	}
	r.logger.Error("retry attempts exhausted (stream)", "model", r.inner.ID(), "err", last)
	return ChatResponse{}, last
}

// transientErr reports whether err is a retryable HTTP failure.
func transientErr(err error) bool {
	var e *ErrHTTP
	return errors.As(err, &e) && (e.Status == 429 || e.Status == 503)
}

// sleepBackoff waits base*2^i plus up to 50% jitter, or until ctx ends.
func sleepBackoff(ctx context.Context, base time.Duration, i int) error {
	exp := base * (1 << i)
	delay := exp + time.Duration(rand.Int63n(int64(exp)/2+1))
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ Model = (*retryModel)(nil)
