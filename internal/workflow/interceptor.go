package workflow

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/interceptor"
	"go.temporal.io/sdk/temporal"
)

// ActivityErrorInterceptor gives untyped activity failures the activity name
// as their Temporal error type and logs every failure once, with the attempt
// number, on the worker side.
type ActivityErrorInterceptor struct {
	interceptor.WorkerInterceptorBase
	logger zerolog.Logger
	info   func(ctx context.Context) (name string, attempt int32)
}

// NewActivityErrorInterceptor returns the interceptor cmd/worker installs.
func NewActivityErrorInterceptor(logger zerolog.Logger) *ActivityErrorInterceptor {
	return &ActivityErrorInterceptor{
		logger: logger.With().Str("component", "activity").Logger(),
		info: func(ctx context.Context) (string, int32) {
			i := activity.GetInfo(ctx)
			return i.ActivityType.Name, i.Attempt
		},
	}
}

func (e *ActivityErrorInterceptor) InterceptActivity(
	ctx context.Context,
	next interceptor.ActivityInboundInterceptor,
) interceptor.ActivityInboundInterceptor {
	return &activityErrorInbound{next: next, parent: e}
}

type activityErrorInbound struct {
	interceptor.ActivityInboundInterceptorBase
	next   interceptor.ActivityInboundInterceptor
	parent *ActivityErrorInterceptor
}

func (a *activityErrorInbound) Init(outbound interceptor.ActivityOutboundInterceptor) error {
	return a.next.Init(outbound)
}

func (a *activityErrorInbound) ExecuteActivity(
	ctx context.Context,
	in *interceptor.ExecuteActivityInput,
) (interface{}, error) {
	result, err := a.next.ExecuteActivity(ctx, in)
	if err == nil {
		return result, nil
	}

	name, attempt := a.parent.info(ctx)
	a.parent.logger.Warn().Err(err).Str("activity", name).Int32("attempt", attempt).Msg("activity failed")

	// Integrity and not-found failures already carry their type.
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) && appErr.Type() != "" {
		return result, err
	}
	return result, temporal.NewApplicationError(err.Error(), name, err)
}
