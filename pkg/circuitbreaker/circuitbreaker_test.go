package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	errBoom     = errors.New("boom")
	errNotFound = errors.New("not found")
)

func testConfig(name string) Config {
	return Config{
		Name:                name,
		ConsecutiveFailures: 2,
		Timeout:             time.Hour,
		HalfOpenMaxRequests: 1,
	}
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	cb := New(testConfig("opens"), zap.NewNop())

	assert.ErrorIs(t, cb.Execute(func() error { return errBoom }), errBoom)
	assert.ErrorIs(t, cb.Execute(func() error { return errBoom }), errBoom)

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitBreakerOpen)
	assert.False(t, called)
	assert.Equal(t, gobreaker.StateOpen, cb.State())
}

func TestCircuitBreaker_HalfOpenRecovers(t *testing.T) {
	cfg := testConfig("recovers")
	cfg.Timeout = 10 * time.Millisecond
	cb := New(cfg, zap.NewNop())

	_ = cb.Execute(func() error { return errBoom })
	_ = cb.Execute(func() error { return errBoom })
	require.Equal(t, gobreaker.StateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, gobreaker.StateHalfOpen, cb.State())

	assert.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestCircuitBreaker_FailureRatio(t *testing.T) {
	cb := New(Config{Name: "ratio", MinRequests: 4, FailureRatio: 0.5, Timeout: time.Hour}, zap.NewNop())

	_ = cb.Execute(func() error { return nil })
	_ = cb.Execute(func() error { return errBoom })
	_ = cb.Execute(func() error { return nil })
	assert.Equal(t, gobreaker.StateClosed, cb.State())

	_ = cb.Execute(func() error { return errBoom })
	assert.Equal(t, gobreaker.StateOpen, cb.State())
}

func TestCircuitBreaker_IsSuccessfulKeepsClientErrorsOut(t *testing.T) {
	cfg := testConfig("client-errors")
	cfg.IsSuccessful = func(err error) bool { return err == nil || errors.Is(err, errNotFound) }
	cb := New(cfg, zap.NewNop())

	for i := 0; i < 5; i++ {
		// 调用方仍然拿到原始错误
		assert.ErrorIs(t, cb.Execute(func() error { return errNotFound }), errNotFound)
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())
	assert.Equal(t, "client-errors", cb.Name())
}
