// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/policyrag/ai"
	"github.com/poiesic/policyrag/core"
	"github.com/poiesic/policyrag/retry"
	"golang.org/x/time/rate"
)

// Gateway wraps an embedder with the limits every ingestion call needs:
// input truncation, a per-call timeout, a request rate limit and retries.
// Safe for concurrent use.
type Gateway struct {
	embedder ai.Embedder
	timeout  time.Duration
	maxChars int
	dims     int
	limiter  *rate.Limiter
	retry    retry.Policy
	logger   *slog.Logger
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway) error

// WithConfig applies the timeout, input limit, rate limit and width of an AI config.
func WithConfig(cfg *ai.Config) GatewayOption {
	return func(g *Gateway) error {
		if cfg == nil {
			return nil
		}
		if cfg.Timeout > 0 {
			g.timeout = cfg.Timeout
		}
		if cfg.MaxInputChars > 0 {
			g.maxChars = cfg.MaxInputChars
		}
		g.dims = cfg.Dimensions
		if cfg.RequestsPerSecond > 0 {
			g.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
		}
		return nil
	}
}

// WithGatewayTimeout bounds each embedding attempt.
func WithGatewayTimeout(d time.Duration) GatewayOption {
	return func(g *Gateway) error {
		if d <= 0 {
			return fmt.Errorf("%w: gateway timeout must be positive", core.ErrInvalidArgument)
		}
		g.timeout = d
		return nil
	}
}

// WithMaxInputChars truncates embedding input to n runes.
func WithMaxInputChars(n int) GatewayOption {
	return func(g *Gateway) error {
		if n <= 0 {
			return fmt.Errorf("%w: max input chars must be positive", core.ErrInvalidArgument)
		}
		g.maxChars = n
		return nil
	}
}

// WithRateLimit allows rps requests per second with the given burst.
// A non-positive rps removes the limit.
func WithRateLimit(rps float64, burst int) GatewayOption {
	return func(g *Gateway) error {
		if rps <= 0 {
			g.limiter = nil
			return nil
		}
		g.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
		return nil
	}
}

// WithGatewayRetry sets the retry policy for failed embedding calls.
func WithGatewayRetry(policy retry.Policy) GatewayOption {
	return func(g *Gateway) error {
		if policy.MaxAttempts <= 0 {
			return fmt.Errorf("%w: %w", core.ErrInvalidArgument, retry.ErrInvalidMaxAttempts)
		}
		g.retry = policy
		return nil
	}
}

// WithGatewayDimensions sets the expected vector width. Zero disables the check.
func WithGatewayDimensions(dims int) GatewayOption {
	return func(g *Gateway) error {
		g.dims = dims
		return nil
	}
}

// WithGatewayLogger sets a custom logger.
// Default is slog.Default().
func WithGatewayLogger(logger *slog.Logger) GatewayOption {
	return func(g *Gateway) error {
		if logger == nil {
			logger = slog.Default()
		}
		g.logger = logger
		return nil
	}
}

// NewGateway creates a gateway in front of embedder.
func NewGateway(embedder ai.Embedder, opts ...GatewayOption) (*Gateway, error) {
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	defaults := ai.DefaultConfig()
	g := &Gateway{
		embedder: embedder,
		timeout:  defaults.Timeout,
		maxChars: defaults.MaxInputChars,
		retry:    retry.DefaultPolicy,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, err
		}
	}
	g.logger = g.logger.With("component", "embedding-gateway")
	return g, nil
}

// Embed returns the vector for text. Failures wrap core.ErrEmbeddingUnavailable.
func (g *Gateway) Embed(ctx context.Context, text string) ([]float32, error) {
	input := Truncate(text, g.maxChars)

	var vector []float32
	err := g.retry.Do(ctx, func() error {
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return retry.Permanent(err)
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		v, err := g.embedder.EmbedText(callCtx, input)
		if err != nil {
			g.logger.Debug("embedding attempt failed", "err", err)
			return err
		}
		if len(v) == 0 {
			return retry.Permanent(errors.New("embedder returned an empty vector"))
		}
		if err := core.ValidateEmbedding(v, g.dims); err != nil {
			return retry.Permanent(err)
		}
		vector = v
		return nil
	})
	if err != nil {
		if errors.Is(err, core.ErrEmbeddingUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", core.ErrEmbeddingUnavailable, err)
	}
	return vector, nil
}

// Truncate cuts s to at most n runes. Non-positive n leaves s untouched.
func Truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
