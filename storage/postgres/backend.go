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


package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/poiesic/policyrag/core"
	"github.com/poiesic/policyrag/index"
)

// ErrConnStringRequired is returned when no connection string is provided.
var ErrConnStringRequired = errors.New("postgres connection string required")

// Backend owns the connection pool and the schema.
type Backend struct {
	pool           *pgxpool.Pool
	dims           int
	m              int
	efConstruction int
	logger         *slog.Logger
}

// Option configures a Backend.
type Option func(*Backend) error

// WithHNSW sets the graph degree and build beam width of the vector index.
// Defaults match the in-process index.
func WithHNSW(m, efConstruction int) Option {
	return func(b *Backend) error {
		if m < 2 || efConstruction < 2*m {
			return fmt.Errorf("%w: hnsw needs m >= 2 and ef_construction >= 2*m", core.ErrInvalidArgument)
		}
		b.m = m
		b.efConstruction = efConstruction
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) error {
		if logger == nil {
			logger = slog.Default()
		}
		b.logger = logger
		return nil
	}
}

// Open connects to connString and creates the schema for dims-wide vectors.
func Open(ctx context.Context, connString string, dims int, opts ...Option) (*Backend, error) {
	if connString == "" {
		return nil, ErrConnStringRequired
	}
	if dims <= 0 {
		return nil, fmt.Errorf("%w: dimensions must be positive", core.ErrInvalidArgument)
	}

	b := &Backend{
		dims:           dims,
		m:              index.DefaultM,
		efConstruction: index.DefaultEfConstruction,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, err
		}
	}
	b.logger = b.logger.With("component", "postgres")

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	b.pool = pool

	if err := b.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return b, nil
}

// Migrate creates missing tables and indexes. It is idempotent.
func (b *Backend) Migrate(ctx context.Context) error {
	for _, stmt := range schema(b.dims, b.m, b.efConstruction) {
		if _, err := b.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	b.logger.Debug("schema ready", "dims", b.dims, "m", b.m, "ef_construction", b.efConstruction)
	return nil
}

// Pool returns the underlying connection pool.
func (b *Backend) Pool() *pgxpool.Pool {
	return b.pool
}

// Close closes the pool.
func (b *Backend) Close() {
	if b.pool != nil {
		b.pool.Close()
	}
}
