package circuitbreaker

import (
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"subtrack/pkg/metrics"
)

// ErrCircuitBreakerOpen is returned instead of calling fn while the breaker
// is open or the half-open request quota is used up.
var ErrCircuitBreakerOpen = errors.New("circuit breaker is open")

// Config 熔断器配置
type Config struct {
	Name string
	// 连续失败多少次后打开
	ConsecutiveFailures uint32
	// 统计窗口内请求数达到 MinRequests 且失败率达到 FailureRatio 时也会打开
	MinRequests  uint32
	FailureRatio float64
	// 关闭状态下计数清零的周期，0 表示不清零
	Interval time.Duration
	// 打开状态持续多久后进入半开
	Timeout time.Duration
	// 半开状态下允许通过的请求数
	HalfOpenMaxRequests uint32
	// IsSuccessful 为 nil 时只有 err == nil 算成功
	IsSuccessful func(err error) bool
}

func DefaultConfig(name string) Config {
	return Config{
		Name:                name,
		ConsecutiveFailures: 5,
		MinRequests:         10,
		FailureRatio:        0.6,
		Interval:            60 * time.Second,
		Timeout:             30 * time.Second,
		HalfOpenMaxRequests: 3,
	}
}

// CircuitBreaker wraps gobreaker with the error shape and metrics used by
// the outbound clients.
type CircuitBreaker struct {
	cb *gobreaker.CircuitBreaker
}

func New(cfg Config, logger *zap.Logger) *CircuitBreaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.HalfOpenMaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if cfg.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
				return true
			}
			if cfg.MinRequests == 0 || counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.SetCircuitBreakerState(name, stateValue(to))
			logger.Warn("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: cfg.IsSuccessful,
	}
	metrics.SetCircuitBreakerState(cfg.Name, 0)
	return &CircuitBreaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Execute runs fn under the breaker. fn's own error is returned unchanged.
func (b *CircuitBreaker) Execute(fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitBreakerOpen
	}
	return err
}

func (b *CircuitBreaker) State() gobreaker.State {
	return b.cb.State()
}

func (b *CircuitBreaker) Name() string {
	return b.cb.Name()
}

func stateValue(s gobreaker.State) int {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
