package loader

import (
	"context"
	"errors"
	"fragloadd/internal/logger"
	"fragloadd/internal/models"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLoader struct {
	options map[string]interface{}
}

func (s *stubLoader) Load(*models.LoaderContext, models.LoaderConfig, models.Callbacks) {}
func (s *stubLoader) Abort()                                                            {}
func (s *stubLoader) Destroy()                                                          {}

func registerStub(t *testing.T, name string) {
	t.Helper()
	Register(name, func(log logger.Logger, options map[string]interface{}) (models.Loader, error) {
		if options["fail"] == true {
			return nil, errors.New("bad options")
		}
		return &stubLoader{options: options}, nil
	})
	t.Cleanup(func() { Unregister(name) })
}

func TestRegistry(t *testing.T) {
	registerStub(t, "stub-registry")

	_, err := Lookup("stub-registry")
	require.NoError(t, err)
	assert.Contains(t, Names(), "stub-registry")

	assert.Panics(t, func() { registerStub(t, "stub-registry") })

	_, err = Lookup("missing")
	assert.ErrorIs(t, err, ErrUnknownLoader)
}

func TestFactory_SelectsLoader(t *testing.T) {
	registerStub(t, "default")
	registerStub(t, "custom")
	f := NewFactory(logger.Nop())

	options := map[string]map[string]interface{}{
		"default": {"name": "default"},
		"custom":  {"name": "custom"},
	}

	l, err := f.Create(models.LoadSettings{Loader: "default", LoaderOptions: options})
	require.NoError(t, err)
	assert.Equal(t, "default", l.(*stubLoader).options["name"])

	l, err = f.Create(models.LoadSettings{Loader: "default", FragmentLoader: "custom", LoaderOptions: options})
	require.NoError(t, err)
	assert.Equal(t, "custom", l.(*stubLoader).options["name"])

	l1, _ := f.Create(models.LoadSettings{Loader: "default"})
	l2, _ := f.Create(models.LoadSettings{Loader: "default"})
	assert.NotSame(t, l1, l2, "each attempt gets its own loader")
}

func TestFactory_Errors(t *testing.T) {
	registerStub(t, "failing")
	f := NewFactory(logger.Nop())

	_, err := f.Create(models.LoadSettings{Loader: "nope"})
	assert.ErrorIs(t, err, ErrUnknownLoader)

	_, err = f.Create(models.LoadSettings{
		Loader:        "failing",
		LoaderOptions: map[string]map[string]interface{}{"failing": {"fail": true}},
	})
	assert.ErrorContains(t, err, "failed to create loader 'failing'")
}

func TestName(t *testing.T) {
	assert.Equal(t, DefaultLoader, Name(models.LoadSettings{}))
	assert.Equal(t, "file", Name(models.LoadSettings{Loader: "file"}))
	assert.Equal(t, "custom", Name(models.LoadSettings{Loader: "file", FragmentLoader: "custom"}))
}

func TestAttempt_SingleOutcome(t *testing.T) {
	var a Attempt
	ctx, ok := a.Start(0, nil)
	require.True(t, ok)
	assert.True(t, a.Running())

	assert.True(t, a.Finish())
	assert.False(t, a.Finish())
	assert.Error(t, ctx.Err(), "finishing cancels the transfer")

	_, ok = a.Start(0, nil)
	assert.False(t, ok, "an attempt cannot be restarted")
}

func TestAttempt_AbortBeforeStart(t *testing.T) {
	var a Attempt
	a.Abort()
	a.Abort()

	_, ok := a.Start(0, nil)
	assert.False(t, ok)
	assert.True(t, a.Aborted())
}

func TestAttempt_AbortSilencesOutcome(t *testing.T) {
	var a Attempt
	ctx, ok := a.Start(time.Hour, func() { t.Error("timeout must not fire") })
	require.True(t, ok)

	a.Abort()

	assert.False(t, a.Running())
	assert.False(t, a.Finish())
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}

func TestAttempt_Timeout(t *testing.T) {
	var a Attempt
	var fired atomic.Int32
	ctx, ok := a.Start(10*time.Millisecond, func() { fired.Add(1) })
	require.True(t, ok)

	assert.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Error(t, ctx.Err())
	assert.False(t, a.Finish(), "the timeout owns the outcome")
}

func TestRetryDelay(t *testing.T) {
	cfg := models.LoaderConfig{RetryDelay: time.Second, MaxRetryDelay: 5 * time.Second}
	assert.Equal(t, time.Second, RetryDelay(cfg, 0))
	assert.Equal(t, 2*time.Second, RetryDelay(cfg, 1))
	assert.Equal(t, 4*time.Second, RetryDelay(cfg, 2))
	assert.Equal(t, 5*time.Second, RetryDelay(cfg, 3))
	assert.Equal(t, 5*time.Second, RetryDelay(cfg, 30))

	assert.Equal(t, time.Duration(0), RetryDelay(models.LoaderConfig{MaxRetryDelay: time.Second}, 3))
}

func TestRetry(t *testing.T) {
	fail := errors.New("fail")

	t.Run("no retry when MaxRetry is zero", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), models.LoaderConfig{}, func() error {
			calls++
			return fail
		}, nil)
		assert.ErrorIs(t, err, fail)
		assert.Equal(t, 1, calls)
	})

	t.Run("retries until success", func(t *testing.T) {
		calls := 0
		var retries []int
		err := Retry(context.Background(), models.LoaderConfig{MaxRetry: 3, RetryDelay: time.Millisecond}, func() error {
			calls++
			if calls < 3 {
				return fail
			}
			return nil
		}, func(retry int, err error) { retries = append(retries, retry) })
		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
		assert.Equal(t, []int{1, 2}, retries)
	})

	t.Run("stops when cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		err := Retry(ctx, models.LoaderConfig{MaxRetry: 5, RetryDelay: time.Hour}, func() error {
			calls++
			cancel()
			return fail
		}, nil)
		assert.ErrorIs(t, err, fail)
		assert.Equal(t, 1, calls)
	})
}

func TestDecodeOptions(t *testing.T) {
	var opts struct {
		Timeout *time.Duration
		Workers int
		Headers map[string]string
	}
	err := DecodeOptions(map[string]interface{}{
		"Timeout": "1500ms",
		"Workers": "4",
		"Headers": map[string]interface{}{"X-Test": "1"},
	}, &opts)
	require.NoError(t, err)
	require.NotNil(t, opts.Timeout)
	assert.Equal(t, 1500*time.Millisecond, *opts.Timeout)
	assert.Equal(t, 4, opts.Workers)
	assert.Equal(t, "1", opts.Headers["X-Test"])

	err = DecodeOptions(map[string]interface{}{"Unknown": 1}, &opts)
	assert.ErrorContains(t, err, "invalid loader options")
}
