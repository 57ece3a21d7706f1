package llm

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Middleware decorates a Generator.
type Middleware func(Generator) Generator

// Wrap applies middlewares so that the first one is outermost.
// Example: Wrap(inner, A, B) => A(B(inner))
func Wrap(inner Generator, mws ...Middleware) Generator {
	out := inner
	for i := len(mws) - 1; i >= 0; i-- {
		out = mws[i](out)
	}
	return out
}

// passthrough forwards Name and Model to the wrapped generator.
type passthrough struct{ next Generator }

func (p passthrough) Name() string  { return p.next.Name() }
func (p passthrough) Model() string { return p.next.Model() }

// RetryPolicy configures Retry.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Sleep waits between attempts; nil uses a timer that honors ctx.
	Sleep func(ctx context.Context, d time.Duration) error
	// Logger receives one entry per failed attempt; nil disables.
	Logger *zap.Logger
}

// Retry retries transient failures with exponential backoff, capped at MaxDelay, with full
// jitter. PermanentError and context cancellation stop immediately.
func Retry(p RetryPolicy) Middleware {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 300 * time.Millisecond
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.Sleep == nil {
		p.Sleep = sleepCtx
	}
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	return func(next Generator) Generator {
		return &retrying{passthrough{next}, p}
	}
}

type retrying struct {
	passthrough
	policy RetryPolicy
}

func (r *retrying) Generate(ctx context.Context, req Request) (string, error) {
	var last error
	for i := 0; i < r.policy.MaxAttempts; i++ {
		resp, err := r.next.Generate(ctx, req)
		if err == nil {
			return resp, nil
		}
		err = Classify(err)
		if IsPermanent(err) {
			return "", err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		last = err
		if i == r.policy.MaxAttempts-1 {
			break
		}
		delay := r.backoff(i)
		r.policy.Logger.Warn("Generation attempt failed, retrying",
			zap.String("provider", r.Name()),
			zap.Int("attempt", i+1),
			zap.Duration("delay", delay),
			zap.Error(err))
		if err := r.policy.Sleep(ctx, delay); err != nil {
			return "", err
		}
	}
	return "", last
}

// backoff returns a uniformly random delay in [0, min(MaxDelay, BaseDelay*2^attempt)].
func (r *retrying) backoff(attempt int) time.Duration {
	ceiling := r.policy.MaxDelay
	if attempt < 32 {
		if d := r.policy.BaseDelay << attempt; d > 0 && d < ceiling {
			ceiling = d
		}
	}
	return time.Duration(rand.Int64N(int64(ceiling) + 1))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Timeout bounds each call to next. A non-positive d disables it.
func Timeout(d time.Duration) Middleware {
	return func(next Generator) Generator {
		if d <= 0 {
			return next
		}
		return &timed{passthrough{next}, d}
	}
}

type timed struct {
	passthrough
	d time.Duration
}

func (t *timed) Generate(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.next.Generate(ctx, req)
}

// Logging records each call's duration and outcome at debug level.
func Logging(logger *zap.Logger) Middleware {
	return func(next Generator) Generator {
		if logger == nil {
			return next
		}
		return &logged{passthrough{next}, logger}
	}
}

type logged struct {
	passthrough
	logger *zap.Logger
}

func (l *logged) Generate(ctx context.Context, req Request) (string, error) {
	start := time.Now()
	resp, err := l.next.Generate(ctx, req)
	fields := []zap.Field{
		zap.String("provider", l.Name()),
		zap.String("model", ModelFor(l.next, req)),
		zap.Int("prompt_bytes", len(req.Prompt)+len(req.SystemPrompt)),
		zap.Duration("took", time.Since(start)),
	}
	if err != nil {
		l.logger.Debug("Generation failed", append(fields, zap.Error(err))...)
		return "", err
	}
	l.logger.Debug("Generation done", append(fields, zap.Int("response_bytes", len(resp)))...)
	return resp, nil
}
