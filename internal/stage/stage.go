// Package stage holds the four pipeline stage executors. Executors are
// pure workers: they consume a work item's payload, call their
// collaborator, and report a classified engine.StageResult. Queueing,
// retry scheduling, dedup, and state transitions belong to the engine.
package stage

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/leadscout/internal/engine"
	"github.com/sells-group/leadscout/internal/model"
	"github.com/sells-group/leadscout/internal/resilience"
)

func success(outputs ...model.Payload) engine.StageResult {
	return engine.Success(outputs...)
}

func retryable(err error) engine.StageResult {
	return engine.Retryable(err)
}

func fatal(err error) engine.StageResult {
	return engine.Fatal(err)
}

// serviceRetryDelay spaces retries while a collaborator's circuit is
// open, matching the breaker's reset timeout.
const serviceRetryDelay = 30 * time.Second

// newServiceBreaker builds the breaker guarding one external
// collaborator. Cancelled contexts never count as service failures.
func newServiceBreaker(service string) *resilience.CircuitBreaker {
	cfg := resilience.DefaultCircuitBreakerConfig()
	cfg.ShouldTrip = func(err error) bool {
		return err != nil && !errors.Is(err, context.Canceled)
	}
	cfg.OnStateChange = func(from, to resilience.CircuitState) {
		zap.L().Warn("service circuit state changed",
			zap.String("service", service),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}
	return resilience.NewCircuitBreaker(cfg)
}

// waitForService classifies an open-circuit rejection: retry later, after
// the breaker has had a chance to reset.
func waitForService(err error) engine.StageResult {
	return engine.StageResult{
		Disposition: engine.DispositionRetryable,
		Err:         err,
		RetryAfter:  serviceRetryDelay,
	}
}
