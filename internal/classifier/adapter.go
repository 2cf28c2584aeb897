package classifier

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/audience-engine/internal/model"
	"github.com/sells-group/audience-engine/internal/resilience"
	"github.com/sells-group/audience-engine/pkg/anthropic"
)

// defaultMaxAttempts is the total classification attempts per run, counting
// the first try. Malformed responses and per-attempt timeouts consume the
// budget; exhausting it degrades to an empty result, never a hard failure.
const defaultMaxAttempts = 5

// Classifier maps an identity's ranked interests to scored cohorts from a
// closed catalogue. Implementations must return entries deduplicated by
// cohort in descending relevance order.
type Classifier interface {
	Classify(ctx context.Context, identityID string, interests []string) ([]model.CohortScore, error)
}

// Options tunes an Adapter. Zero values fall back to defaults.
type Options struct {
	Model          string
	MaxTokens      int64
	MaxAttempts    int
	AttemptTimeout time.Duration
	RetryBackoff   time.Duration
	RatePerSec     float64
	Catalogue      *Catalogue
}

// Adapter implements Classifier on top of the Anthropic messages API.
type Adapter struct {
	client         anthropic.Client
	catalogue      *Catalogue
	system         []anthropic.SystemBlock
	model          string
	maxTokens      int64
	maxAttempts    int
	attemptTimeout time.Duration
	retryBackoff   time.Duration
	limiter        *rate.Limiter
}

// NewAdapter constructs an Adapter. The catalogue defaults to
// DefaultCatalogue when opts.Catalogue is nil.
func NewAdapter(client anthropic.Client, opts Options) *Adapter {
	catalogue := opts.Catalogue
	if catalogue == nil {
		catalogue = NewCatalogue(DefaultCatalogue)
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	attemptTimeout := opts.AttemptTimeout
	if attemptTimeout <= 0 {
		attemptTimeout = 30 * time.Second
	}
	retryBackoff := opts.RetryBackoff
	if retryBackoff <= 0 {
		retryBackoff = 200 * time.Millisecond
	}
	limit := rate.Inf
	if opts.RatePerSec > 0 {
		limit = rate.Limit(opts.RatePerSec)
	}

	return &Adapter{
		client:         client,
		catalogue:      catalogue,
		system:         anthropic.BuildCachedSystemBlocks(systemPrompt),
		model:          opts.Model,
		maxTokens:      maxTokens,
		maxAttempts:    maxAttempts,
		attemptTimeout: attemptTimeout,
		retryBackoff:   retryBackoff,
		limiter:        rate.NewLimiter(limit, 1),
	}
}

// Classify issues the classification request and validates the reply.
//
// Structurally invalid replies and per-attempt timeouts are retried up to the
// attempt budget; when the budget is spent the adapter logs a diagnostic
// keyed by the identity id and returns an empty result so the caller leaves
// prior cohort state untouched. Non-retryable transport errors (bad
// credentials, canceled parent context) surface to the caller.
func (a *Adapter) Classify(ctx context.Context, identityID string, interests []string) ([]model.CohortScore, error) {
	userPrompt := buildUserPrompt(interests, a.catalogue)

	cfg := resilience.RetryConfig{
		MaxAttempts:    a.maxAttempts,
		InitialBackoff: a.retryBackoff,
		MaxBackoff:     10 * a.retryBackoff,
		ShouldRetry:    retryable,
		OnRetry: func(attempt int, err error) {
			zap.L().Debug("classifier: retrying",
				zap.String("identity_id", identityID),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		},
	}

	scores, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) ([]model.CohortScore, error) {
		return a.classifyOnce(ctx, interests, userPrompt)
	})
	if err != nil {
		if ctx.Err() != nil || !retryable(err) {
			return nil, err
		}
		// Retry budget exhausted: degrade to "no cohorts assigned this run".
		zap.L().Warn("classifier: giving up after repeated failures",
			zap.String("identity_id", identityID),
			zap.Int("attempts", a.maxAttempts),
			zap.Error(err),
		)
		return []model.CohortScore{}, nil
	}

	return scores, nil
}

func (a *Adapter) classifyOnce(ctx context.Context, interests []string, userPrompt string) ([]model.CohortScore, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, a.attemptTimeout)
	defer cancel()

	resp, err := a.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		System:    a.system,
		Messages: []anthropic.Message{
			{Role: "user", Content: userPrompt},
		},
	})
	if err != nil {
		return nil, err
	}

	return parseScores(resp.Text(), a.catalogue)
}

// retryable accepts malformed replies, per-attempt timeouts and transient
// network faults; everything else aborts the retry loop.
func retryable(err error) bool {
	return errors.Is(err, ErrMalformedResponse) ||
		errors.Is(err, context.DeadlineExceeded) ||
		resilience.IsTransient(err)
}
