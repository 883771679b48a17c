package reindex

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProgressTracker(t *testing.T) {
	t.Run("reports at intervals", func(t *testing.T) {
		var buf bytes.Buffer
		tracker := NewProgressTracker(&buf, 10)

		tracker.Start(100)
		tracker.Increment(5)
		assert.Empty(t, buf.String())

		tracker.Increment(5)
		assert.Contains(t, buf.String(), "10/100")
		assert.Contains(t, buf.String(), "10.0%")
		assert.Greater(t, tracker.Elapsed(), time.Duration(0))
	})

	t.Run("finish jumps to total", func(t *testing.T) {
		var buf bytes.Buffer
		tracker := NewProgressTracker(&buf, 10)

		tracker.Start(100)
		tracker.Increment(75)
		tracker.Finish()

		assert.Contains(t, buf.String(), "100/100")
		assert.Contains(t, buf.String(), "100.0%")
		assert.Contains(t, buf.String(), "\n")
	})

	t.Run("capped at total", func(t *testing.T) {
		var buf bytes.Buffer
		tracker := NewProgressTracker(&buf, 10)

		tracker.Start(100)
		tracker.Increment(150)
		assert.Contains(t, buf.String(), "100/100")
		assert.NotContains(t, buf.String(), "150")
	})

	t.Run("zero total", func(t *testing.T) {
		var buf bytes.Buffer
		tracker := NewProgressTracker(&buf, 10)

		tracker.Start(0)
		tracker.Finish()
		assert.Contains(t, buf.String(), "0/0")
	})

	t.Run("ignored before start", func(t *testing.T) {
		var buf bytes.Buffer
		tracker := NewProgressTracker(&buf, 1)

		tracker.Increment(5)
		tracker.Finish()
		assert.Empty(t, buf.String())
		assert.Zero(t, tracker.Elapsed())
	})
}
