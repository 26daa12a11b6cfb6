package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func testConfig() Config {
	return Config{
		FailureThreshold:    3,
		SuccessThreshold:    2,
		Timeout:             50 * time.Millisecond,
		HalfOpenMaxRequests: 2,
	}
}

func fail() error { return errBoom }
func ok() error   { return nil }

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	cb := New(testConfig())
	for i := 0; i < 3; i++ {
		require.ErrorIs(t, cb.Execute(fail), errBoom)
	}
	assert.Equal(t, StateOpen, cb.GetState())
	assert.ErrorIs(t, cb.Execute(ok), ErrOpen)
}

func TestSuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	cb := New(testConfig())
	require.ErrorIs(t, cb.Execute(fail), errBoom)
	require.ErrorIs(t, cb.Execute(fail), errBoom)
	require.NoError(t, cb.Execute(ok))
	require.ErrorIs(t, cb.Execute(fail), errBoom)
	require.ErrorIs(t, cb.Execute(fail), errBoom)
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestHalfOpenClosesAfterSuccesses(t *testing.T) {
	t.Parallel()

	cb := New(testConfig())
	for i := 0; i < 3; i++ {
		cb.Execute(fail)
	}
	require.Equal(t, StateOpen, cb.GetState())

	time.Sleep(60 * time.Millisecond)

	require.NoError(t, cb.Execute(ok))
	assert.Equal(t, StateHalfOpen, cb.GetState())
	require.NoError(t, cb.Execute(ok))
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	t.Parallel()

	cb := New(testConfig())
	for i := 0; i < 3; i++ {
		cb.Execute(fail)
	}
	time.Sleep(60 * time.Millisecond)

	require.ErrorIs(t, cb.Execute(fail), errBoom)
	assert.Equal(t, StateOpen, cb.GetState())
	assert.ErrorIs(t, cb.Execute(ok), ErrOpen)
}

func TestReset(t *testing.T) {
	t.Parallel()

	cb := New(testConfig())
	for i := 0; i < 3; i++ {
		cb.Execute(fail)
	}
	require.Equal(t, StateOpen, cb.GetState())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.GetState())
	assert.NoError(t, cb.Execute(ok))
}
