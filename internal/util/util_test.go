package util

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJitterStaysWithinBounds(t *testing.T) {
	base := time.Minute
	for i := 0; i < 100; i++ {
		d := Jitter(base, 0.2)
		assert.GreaterOrEqual(t, d, time.Duration(float64(base)*0.8))
		assert.LessOrEqual(t, d, time.Duration(float64(base)*1.2))
	}
}

func TestJitterPassesThroughDegenerateInputs(t *testing.T) {
	assert.Equal(t, time.Duration(0), Jitter(0, 0.2))
	assert.Equal(t, time.Minute, Jitter(time.Minute, 0))
}

func TestRetryWithBackoffSucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := RetryWithBackoff(context.Background(), 3, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryWithBackoffReturnsLastError(t *testing.T) {
	wanted := errors.New("still broken")
	calls := 0
	err := RetryWithBackoff(context.Background(), 2, time.Millisecond, func() error {
		calls++
		return wanted
	}, nil)
	assert.ErrorIs(t, err, wanted)
	assert.Equal(t, 2, calls)
}

func TestRetryWithBackoffStopsOnNonRetryable(t *testing.T) {
	fatal := errors.New("fatal")
	calls := 0
	err := RetryWithBackoff(context.Background(), 5, time.Millisecond, func() error {
		calls++
		return fatal
	}, func(err error) bool { return false })
	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)
}

func TestRetryWithBackoffHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := RetryWithBackoff(ctx, 3, time.Hour, func() error {
		return errors.New("transient")
	}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInArray(t *testing.T) {
	assert.True(t, InArray([]string{"a", "b"}, "b"))
	assert.False(t, InArray([]string{"a", "b"}, "c"))
	assert.False(t, InArray(nil, "a"))
}

func TestAtomicWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "file.json")
	require.NoError(t, AtomicWriteFile(path, []byte("payload"), 0o600))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	// Overwrite leaves no stray temp files behind.
	require.NoError(t, AtomicWriteFile(path, []byte("second"), 0o600))
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
