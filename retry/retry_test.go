package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithBackoff(t *testing.T) {
	t.Run("success on first try", func(t *testing.T) {
		attempts := 0
		err := WithBackoff(context.Background(), func() error {
			attempts++
			return nil
		}, 3, time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, 1, attempts)
	})

	t.Run("eventual success", func(t *testing.T) {
		attempts := 0
		err := WithBackoff(context.Background(), func() error {
			attempts++
			if attempts < 3 {
				return errors.New("temporary error")
			}
			return nil
		}, 5, time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("all attempts fail", func(t *testing.T) {
		attempts := 0
		expected := errors.New("persistent error")
		err := WithBackoff(context.Background(), func() error {
			attempts++
			return expected
		}, 3, time.Millisecond)
		assert.Equal(t, expected, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("permanent errors stop early", func(t *testing.T) {
		attempts := 0
		cause := errors.New("bad input")
		err := WithBackoff(context.Background(), func() error {
			attempts++
			return Permanent(cause)
		}, 5, time.Millisecond)
		assert.ErrorIs(t, err, ErrPermanent)
		assert.ErrorIs(t, err, cause)
		assert.Equal(t, 1, attempts)
	})

	t.Run("context canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		attempts := 0
		err := WithBackoff(ctx, func() error {
			attempts++
			if attempts == 2 {
				cancel()
			}
			return errors.New("error")
		}, 10, time.Millisecond)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 2, attempts)
	})

	t.Run("delays grow", func(t *testing.T) {
		attempts := 0
		var delays []time.Duration
		last := time.Now()
		err := WithBackoff(context.Background(), func() error {
			attempts++
			if attempts > 1 {
				delays = append(delays, time.Since(last))
			}
			last = time.Now()
			if attempts < 4 {
				return errors.New("error")
			}
			return nil
		}, 5, 10*time.Millisecond)
		require.NoError(t, err)
		require.Len(t, delays, 3)
		assert.GreaterOrEqual(t, delays[1], 20*time.Millisecond)
		assert.GreaterOrEqual(t, delays[2], 40*time.Millisecond)
	})

	t.Run("rejects non-positive attempts", func(t *testing.T) {
		attempts := 0
		err := WithBackoff(context.Background(), func() error {
			attempts++
			return nil
		}, 0, time.Millisecond)
		assert.ErrorIs(t, err, ErrInvalidMaxAttempts)
		assert.Zero(t, attempts)
	})
}

func TestPolicy_Do(t *testing.T) {
	attempts := 0
	p := Policy{MaxAttempts: 2, BaseDelay: time.Millisecond}
	err := p.Do(context.Background(), func() error {
		attempts++
		return errors.New("nope")
	})
	require.Error(t, err)
	assert.Equal(t, 2, attempts)
}
