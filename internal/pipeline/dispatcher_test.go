package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"lumen-pipeline/pkg/logging/logging"
)

func nopContext() context.Context {
	return logging.WithLogger(context.Background(), zap.NewNop())
}

func TestDispatchReturnsResult(t *testing.T) {
	d := newDispatcher(2)
	v, err := dispatch(nopContext(), d, time.Second, func(context.Context) (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestDispatchRecoversPanics(t *testing.T) {
	d := newDispatcher(1)
	_, err := dispatch(nopContext(), d, time.Second, func(context.Context) (int, error) { panic("boom") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	// the slot was released
	v, err := dispatch(nopContext(), d, time.Second, func(context.Context) (int, error) { return 1, nil })
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestDispatchTimeoutLeavesWorkRunning(t *testing.T) {
	d := newDispatcher(1)
	release := make(chan struct{})
	finished := make(chan struct{})

	ctx, cancel := context.WithCancel(nopContext())
	_, err := dispatch(ctx, d, 20*time.Millisecond, func(work context.Context) (int, error) {
		<-release
		// the work context is detached from the caller
		assert.NoError(t, work.Err())
		close(finished)
		return 0, nil
	})
	require.ErrorIs(t, err, errDispatchTimeout)
	cancel()

	// the abandoned work still holds the only slot
	_, err = dispatch(nopContext(), d, 20*time.Millisecond, func(context.Context) (int, error) { return 0, nil })
	require.ErrorIs(t, err, errDispatchTimeout)

	close(release)
	<-finished
	require.Eventually(t, func() bool {
		_, err := dispatch(nopContext(), d, time.Second, func(context.Context) (int, error) { return 0, nil })
		return err == nil
	}, time.Second, 10*time.Millisecond)
}

func TestDispatchCallerCancelled(t *testing.T) {
	d := newDispatcher(1)
	ctx, cancel := context.WithCancel(nopContext())
	cancel()
	_, err := dispatch(ctx, d, time.Second, func(context.Context) (int, error) { return 0, nil })
	assert.True(t, errors.Is(err, context.Canceled))
}
