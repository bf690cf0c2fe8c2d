package resilience

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"marketchat-backend/pkg/logger"
)

// CircuitBreakerState represents the state of the circuit breaker
type CircuitBreakerState string

const (
	CircuitBreakerClosed   CircuitBreakerState = "closed"
	CircuitBreakerHalfOpen CircuitBreakerState = "half_open"
	CircuitBreakerOpen     CircuitBreakerState = "open"
)

// ErrCircuitOpen is returned without calling the operation while the breaker is open
var ErrCircuitOpen = errors.New("circuit breaker open")

// Settings tunes a Breaker
type Settings struct {
	Name             string
	FailureThreshold int           // consecutive failures that open the circuit
	OpenTimeout      time.Duration // time spent open before a trial call
	CallTimeout      time.Duration // per-call deadline
}

// Breaker guards calls to a remote dependency. It never retries: a failed
// call is reported to the caller immediately, who decides whether to try again.
type Breaker struct {
	mu                  sync.Mutex
	settings            Settings
	state               CircuitBreakerState
	consecutiveFailures int
	openedAt            time.Time
	trialInFlight       bool
	now                 func() time.Time
}

var (
	breakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breaker_requests_total",
			Help: "Total number of calls through a circuit breaker",
		},
		[]string{"breaker", "operation", "status"},
	)
	breakerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breaker_errors_total",
			Help: "Total number of failed calls through a circuit breaker",
		},
		[]string{"breaker", "operation", "error_type"},
	)
	breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "breaker_state",
			Help: "State of circuit breaker (0=closed, 1=half_open, 2=open)",
		},
		[]string{"breaker"},
	)
)

func init() {
	prometheus.MustRegister(breakerRequests, breakerErrors, breakerState)
}

// NewBreaker creates a closed breaker
func NewBreaker(settings Settings) *Breaker {
	if settings.FailureThreshold <= 0 {
		settings.FailureThreshold = 3
	}
	if settings.OpenTimeout <= 0 {
		settings.OpenTimeout = 10 * time.Second
	}
	if settings.CallTimeout <= 0 {
		settings.CallTimeout = 30 * time.Second
	}
	breakerState.WithLabelValues(settings.Name).Set(0)
	return &Breaker{
		settings: settings,
		state:    CircuitBreakerClosed,
		now:      time.Now,
	}
}

// Execute runs fn once under the breaker and a call deadline
func (b *Breaker) Execute(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	if err := b.before(operation); err != nil {
		breakerRequests.WithLabelValues(b.settings.Name, operation, "circuit_breaker_open").Inc()
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, b.settings.CallTimeout)
	defer cancel()

	err := fn(callCtx)
	b.after(operation, err)

	if err != nil {
		breakerRequests.WithLabelValues(b.settings.Name, operation, "failure").Inc()
		breakerErrors.WithLabelValues(b.settings.Name, operation, classifyError(err)).Inc()
		return fmt.Errorf("%s %s failed: %w", b.settings.Name, operation, err)
	}
	breakerRequests.WithLabelValues(b.settings.Name, operation, "success").Inc()
	return nil
}

func (b *Breaker) before(operation string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitBreakerOpen:
		if b.now().Sub(b.openedAt) < b.settings.OpenTimeout {
			return fmt.Errorf("%s %s: %w", b.settings.Name, operation, ErrCircuitOpen)
		}
		b.setState(CircuitBreakerHalfOpen)
		logger.Warn("Circuit breaker HALF-OPEN - allowing trial request",
			zap.String("breaker", b.settings.Name),
			zap.String("operation", operation),
		)
		b.trialInFlight = true
		return nil
	case CircuitBreakerHalfOpen:
		// One trial at a time
		if b.trialInFlight {
			return fmt.Errorf("%s %s: %w", b.settings.Name, operation, ErrCircuitOpen)
		}
		b.trialInFlight = true
	}
	return nil
}

func (b *Breaker) after(operation string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	wasHalfOpen := b.state == CircuitBreakerHalfOpen
	b.trialInFlight = false

	if err == nil {
		b.consecutiveFailures = 0
		if b.state != CircuitBreakerClosed {
			b.setState(CircuitBreakerClosed)
			logger.Info("Circuit breaker CLOSED - dependency recovered",
				zap.String("breaker", b.settings.Name),
				zap.String("operation", operation),
			)
		}
		return
	}

	b.consecutiveFailures++
	if wasHalfOpen || b.consecutiveFailures >= b.settings.FailureThreshold {
		b.openedAt = b.now()
		if b.state != CircuitBreakerOpen {
			b.setState(CircuitBreakerOpen)
			logger.Error("Circuit breaker OPEN - too many consecutive failures",
				zap.String("breaker", b.settings.Name),
				zap.String("operation", operation),
				zap.Int("consecutive_failures", b.consecutiveFailures),
				zap.Error(err),
			)
		}
	}
}

func (b *Breaker) setState(state CircuitBreakerState) {
	b.state = state
	switch state {
	case CircuitBreakerClosed:
		breakerState.WithLabelValues(b.settings.Name).Set(0)
	case CircuitBreakerHalfOpen:
		breakerState.WithLabelValues(b.settings.Name).Set(1)
	case CircuitBreakerOpen:
		breakerState.WithLabelValues(b.settings.Name).Set(2)
	}
}

// State returns the current circuit breaker state
func (b *Breaker) State() CircuitBreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// classifyError classifies errors for better metrics
func classifyError(err error) string {
	if err == nil {
		return "none"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}

	errMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "deadline exceeded"):
		return "timeout"
	case strings.Contains(errMsg, "connection refused") || strings.Contains(errMsg, "network unreachable"):
		return "network"
	case strings.Contains(errMsg, "no such host") || strings.Contains(errMsg, "dns"):
		return "dns"
	case strings.Contains(errMsg, "bucket not found") || strings.Contains(errMsg, "not found"):
		return "not_found"
	case strings.Contains(errMsg, "permission denied") || strings.Contains(errMsg, "access denied"):
		return "permission"
	default:
		return "unknown"
	}
}
