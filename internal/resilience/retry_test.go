package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) Policy {
	return Policy{Attempts: attempts, Backoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

func TestDo_SuccessOnFirstAttempt(t *testing.T) {
	var calls int
	err := Do(context.Background(), DefaultPolicy(), "test", func(_ context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_SuccessAfterRetry(t *testing.T) {
	var calls int
	err := Do(context.Background(), fastPolicy(3), "webhook", func(_ context.Context) error {
		calls++
		if calls < 3 {
			return &StatusError{Op: "webhook", StatusCode: 503}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	var calls int
	err := Do(context.Background(), fastPolicy(3), "webhook", func(_ context.Context) error {
		calls++
		return &StatusError{Op: "webhook", StatusCode: 502}
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, "webhook: status 502", err.Error())
}

func TestDo_NonTransientStopsImmediately(t *testing.T) {
	var calls int
	err := Do(context.Background(), fastPolicy(5), "webhook", func(_ context.Context) error {
		calls++
		return &StatusError{Op: "webhook", StatusCode: 404}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelledStopsRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	err := Do(ctx, Policy{Attempts: 10, Backoff: time.Hour, MaxBackoff: time.Hour}, "slow", func(_ context.Context) error {
		calls++
		if calls == 1 {
			time.AfterFunc(10*time.Millisecond, cancel)
		}
		return syscall.ECONNREFUSED
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoVal_ReturnsValue(t *testing.T) {
	var calls int
	v, err := DoVal(context.Background(), fastPolicy(3), "load", func(_ context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, syscall.ECONNRESET
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 2, calls)
}

func TestDoVal_ZeroOnFailure(t *testing.T) {
	v, err := DoVal(context.Background(), fastPolicy(2), "load", func(_ context.Context) (string, error) {
		return "partial", errors.New("bad input")
	})
	require.Error(t, err)
	assert.Empty(t, v)
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "dial timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("invalid geometry"), false},
		{"status 503", &StatusError{Op: "x", StatusCode: 503}, true},
		{"status 429", fmt.Errorf("wrapped: %w", &StatusError{Op: "x", StatusCode: 429}), true},
		{"status 400", &StatusError{Op: "x", StatusCode: 400}, false},
		{"conn refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"net timeout", timeoutErr{}, true},
		{"reset message", errors.New("read tcp: connection reset by peer"), true},
		{"context canceled", context.Canceled, false},
		{"deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), false},
		{"pg server error", &pgconn.PgError{Code: "42P01", Message: "relation does not exist"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestTransientStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, TransientStatus(code), "status %d", code)
	}
	for _, code := range []int{200, 400, 401, 404, 501} {
		assert.False(t, TransientStatus(code), "status %d", code)
	}
}

func TestPolicy_Delay(t *testing.T) {
	p := Policy{Attempts: 5, Backoff: 100 * time.Millisecond, MaxBackoff: 300 * time.Millisecond}.withDefaults()

	assert.Equal(t, 100*time.Millisecond, p.delay(0))
	assert.Equal(t, 200*time.Millisecond, p.delay(1))
	assert.Equal(t, 300*time.Millisecond, p.delay(2), "capped")
	assert.Equal(t, 300*time.Millisecond, p.delay(6))
}

func TestPolicy_DelayJitterBounds(t *testing.T) {
	p := Policy{Backoff: 100 * time.Millisecond, MaxBackoff: time.Second, Jitter: 0.5}.withDefaults()
	for i := 0; i < 100; i++ {
		d := p.delay(0)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}

func TestPolicy_Defaults(t *testing.T) {
	p := Policy{Jitter: -1}.withDefaults()
	assert.Equal(t, 3, p.Attempts)
	assert.Equal(t, 500*time.Millisecond, p.Backoff)
	assert.Equal(t, 10*time.Second, p.MaxBackoff)
	assert.Zero(t, p.Jitter)
}
