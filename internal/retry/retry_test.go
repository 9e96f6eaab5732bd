package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/tfmt/internal/apperr"
)

// recordingSleeper captures requested delays without sleeping.
type recordingSleeper struct {
	delays []time.Duration
}

func (r *recordingSleeper) sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

func testOptions(s *recordingSleeper) Options {
	opts := DefaultOptions()
	opts.Sleep = s.sleep
	return opts
}

func TestDo_SucceedsFirstTry(t *testing.T) {
	s := &recordingSleeper{}
	calls := 0
	v, err := Do(context.Background(), testOptions(s), func(context.Context) (string, error) {
		calls++
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 1, calls)
	assert.Empty(t, s.delays)
}

func TestDo_NonRetryableMakesOneAttempt(t *testing.T) {
	s := &recordingSleeper{}
	calls := 0
	orig := apperr.New(apperr.CodeModelNotFound, "no such model")

	_, err := Do(context.Background(), testOptions(s), func(context.Context) (int, error) {
		calls++
		return 0, orig
	})

	assert.Equal(t, 1, calls)
	assert.Empty(t, s.delays)
	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, apperr.CodeModelNotFound, ae.Code)
	assert.Same(t, orig, ae)
}

func TestDo_NativeErrorClassifiedAsUnknownIsNotRetried(t *testing.T) {
	s := &recordingSleeper{}
	calls := 0
	_, err := Do(context.Background(), testOptions(s), func(context.Context) (int, error) {
		calls++
		return 0, errors.New("parse failure")
	})
	assert.Equal(t, 1, calls)
	assert.Equal(t, apperr.CodeUnknown, apperr.Classify(err).Code)
}

func TestDo_ExhaustsRetryableFailures(t *testing.T) {
	s := &recordingSleeper{}
	calls := 0
	_, err := Do(context.Background(), testOptions(s), func(context.Context) (int, error) {
		calls++
		return 0, apperr.New(apperr.CodeNetworkError, "connection refused")
	})

	assert.Equal(t, DefaultMaxRetries+1, calls)
	assert.Equal(t, []time.Duration{1000 * time.Millisecond, 2000 * time.Millisecond, 4000 * time.Millisecond}, s.delays)

	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, apperr.CodeNetworkError, ae.Code)
	details, ok := ae.Details.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, DefaultMaxRetries, details["retryCount"])
	assert.Equal(t, DefaultMaxRetries, details["maxRetries"])
}

func TestDo_ExhaustedTimeoutReportsNetworkError(t *testing.T) {
	s := &recordingSleeper{}
	opts := testOptions(s)
	opts.MaxRetries = 1
	_, err := Do(context.Background(), opts, func(context.Context) (int, error) {
		return 0, apperr.New(apperr.CodeNetworkTimeout, "deadline")
	})
	ae := apperr.Classify(err)
	assert.Equal(t, apperr.CodeNetworkError, ae.Code)
	assert.Equal(t, apperr.CodeNetworkTimeout, ae.Context["lastCode"])
	assert.Len(t, s.delays, 1)
}

func TestDo_RecoversAfterTransientFailure(t *testing.T) {
	s := &recordingSleeper{}
	calls := 0
	v, err := Do(context.Background(), testOptions(s), func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, context.DeadlineExceeded
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, s.delays)
}

func TestDo_ZeroRetries(t *testing.T) {
	s := &recordingSleeper{}
	opts := testOptions(s)
	opts.MaxRetries = 0
	calls := 0
	_, err := Do(context.Background(), opts, func(context.Context) (int, error) {
		calls++
		return 0, apperr.New(apperr.CodeNetworkError, "down")
	})
	assert.Equal(t, 1, calls)
	details := apperr.Classify(err).Details.(map[string]any)
	assert.Equal(t, 0, details["retryCount"])
}

func TestDelay_CappedAtMax(t *testing.T) {
	opts := DefaultOptions()
	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		10 * time.Second,
		10 * time.Second,
	}
	for attempt, w := range want {
		assert.Equal(t, w, opts.Delay(attempt), "attempt %d", attempt)
	}
	assert.Equal(t, 10*time.Second, opts.Delay(5000))
}

func TestDo_ShutdownAbortsSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	opts := DefaultOptions()
	opts.InitialDelay = time.Hour
	calls := 0
	start := time.Now()
	_, err := Do(ctx, opts, func(context.Context) (int, error) {
		calls++
		return 0, apperr.New(apperr.CodeNetworkError, "down")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Less(t, time.Since(start), time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDo_OnFailureSeesEveryAttempt(t *testing.T) {
	type seen struct {
		code    apperr.Code
		attempt int
	}
	var got []seen
	opts := testOptions(&recordingSleeper{})
	opts.OnFailure = func(e *apperr.Error, attempt int) {
		got = append(got, seen{e.Code, attempt})
	}

	calls := 0
	_, err := Do(context.Background(), opts, func(context.Context) (int, error) {
		calls++
		switch calls {
		case 1:
			return 0, apperr.New(apperr.CodeNetworkError, "refused")
		case 2:
			return 0, context.DeadlineExceeded
		default:
			return 0, apperr.New(apperr.CodeValidation, "bad")
		}
	})
	require.Error(t, err)
	assert.Equal(t, []seen{
		{apperr.CodeNetworkError, 0},
		{apperr.CodeNetworkTimeout, 1},
		{apperr.CodeValidation, 2},
	}, got)
}

func TestDo_OnFailureCalledWhenRetrySucceeds(t *testing.T) {
	var attempts []int
	opts := testOptions(&recordingSleeper{})
	opts.OnFailure = func(_ *apperr.Error, attempt int) { attempts = append(attempts, attempt) }

	calls := 0
	v, err := Do(context.Background(), opts, func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", apperr.New(apperr.CodeNetworkError, "refused")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, []int{0}, attempts)
}
