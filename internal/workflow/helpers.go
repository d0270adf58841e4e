package workflow

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/edvin/statekeeper/internal/activity"
)

// stateActivityOptions retries transient storage failures three times.
// Integrity and not-found failures are never retried.
func stateActivityOptions(timeout time.Duration) workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:        3,
			InitialInterval:        5 * time.Second,
			MaximumInterval:        time.Minute,
			BackoffCoefficient:     2.0,
			NonRetryableErrorTypes: []string{activity.ErrTypeIntegrity, activity.ErrTypeNotFound},
		},
	}
}
