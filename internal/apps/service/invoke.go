package service

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"tempo/internal/apps/capability"
	appmetrics "tempo/internal/apps/metrics"
	id "tempo/pkg/domain"
	dErrors "tempo/pkg/domain-errors"
	"tempo/pkg/platform/circuit"
	request "tempo/pkg/platform/middleware/request"
	"tempo/pkg/platform/tracer"
)

// target identifies what a handler call acts on, for logs and spans.
type target struct {
	app        string
	companyID  id.CompanyID
	instanceID id.InstanceID
}

func (t target) logArgs(ctx context.Context) []any {
	args := []any{"app_name", t.app}
	if !t.companyID.IsNil() {
		args = append(args, "company_id", t.companyID.String())
	}
	if !t.instanceID.IsNil() {
		args = append(args, "instance_id", t.instanceID.String())
	}
	if requestID := request.GetRequestID(ctx); requestID != "" {
		args = append(args, "request_id", requestID)
	}
	return args
}

func (t target) spanAttrs(op operation) []tracer.Attribute {
	attrs := []tracer.Attribute{
		tracer.String(tracer.AttrAppName, t.app),
		tracer.String(tracer.AttrOperation, op.name),
	}
	if !t.companyID.IsNil() {
		attrs = append(attrs, tracer.String(tracer.AttrCompanyID, t.companyID.String()))
	}
	if !t.instanceID.IsNil() {
		attrs = append(attrs, tracer.String(tracer.AttrInstanceID, t.instanceID.String()))
	}
	return attrs
}

// handlerPanic is the error recorded when a handler panics.
type handlerPanic struct {
	value any
	stack []byte
}

func (p *handlerPanic) Error() string {
	return fmt.Sprintf("handler panic: %v", p.value)
}

// invoke runs fn under the handler timeout. See invokeWithin.
func invoke[T any](s *Service, ctx context.Context, op operation, t target, fn func(context.Context) (T, error)) (T, error) {
	return invokeWithin(s, ctx, s.cfg.HandlerTimeout, op, t, fn)
}

// invokeWithin runs fn in its own goroutine bounded by timeout. A panic is
// recovered and reported as an unclassified failure. Declared
// AppRequestErrors are returned unchanged; every other error is wrapped under
// op's code. If the caller's context ends first the result is discarded.
func invokeWithin[T any](s *Service, ctx context.Context, timeout time.Duration, op operation, t target, fn func(context.Context) (T, error)) (T, error) {
	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, "apps."+op.name, t.spanAttrs(op)...)
	start := time.Now()

	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: &handlerPanic{value: r, stack: debug.Stack()}}
			}
		}()
		v, err := fn(ctx)
		done <- outcome{value: v, err: err}
	}()

	var (
		zero T
		res  outcome
	)
	select {
	case res = <-done:
	case <-ctx.Done():
		res = outcome{err: ctx.Err()}
	}
	// A result produced after the deadline or cancellation is not trusted.
	if res.err == nil && ctx.Err() != nil {
		res = outcome{err: ctx.Err()}
	}

	label, err := s.classify(parent, ctx, op, res.err)
	s.metrics.ObserveHandler(t.app, op.name, label, start)
	s.recordBreaker(ctx, t.app, label, span)
	span.SetAttributes(
		tracer.Bool(tracer.AttrTimedOut, label == appmetrics.OutcomeTimeout),
		tracer.Bool(tracer.AttrPanicked, label == appmetrics.OutcomePanic),
	)
	span.End(err)

	if err != nil {
		s.logFailure(parent, op, t, label, res.err)
		return zero, err
	}
	return res.value, nil
}

// classify maps a raw handler outcome to a metrics label and the error the
// caller sees.
func (s *Service) classify(parent, ctx context.Context, op operation, err error) (string, error) {
	if err == nil {
		return appmetrics.OutcomeOK, nil
	}
	var hp *handlerPanic
	if errors.As(err, &hp) {
		return appmetrics.OutcomePanic, op.failure(err)
	}
	if parent.Err() != nil {
		if errors.Is(parent.Err(), context.DeadlineExceeded) {
			return appmetrics.OutcomeTimeout, dErrors.Wrap(err, dErrors.CodeHandlerTimeout, "app handler timed out")
		}
		return appmetrics.OutcomeCanceled, dErrors.Wrap(parent.Err(), dErrors.CodeTimeout, "request canceled")
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return appmetrics.OutcomeTimeout, dErrors.Wrap(err, dErrors.CodeHandlerTimeout, "app handler timed out")
	}
	var appErr *capability.AppRequestError
	if errors.As(err, &appErr) {
		return appmetrics.OutcomeDeclared, appErr
	}
	return appmetrics.OutcomeError, op.failure(err)
}

// recordBreaker feeds the per-app circuit. Declared errors and client
// cancellations say nothing about provider health.
func (s *Service) recordBreaker(ctx context.Context, app, label string, span tracer.Span) {
	switch label {
	case appmetrics.OutcomeOK, appmetrics.OutcomeDeclared:
		if s.circuits.Success(app) == circuit.Closed {
			s.metrics.SetCircuitOpen(app, false)
			span.AddEvent(tracer.EventCircuitClosed)
			s.logger.InfoContext(ctx, "app handler recovered", "app_name", app)
		}
	case appmetrics.OutcomeCanceled:
	default:
		if s.circuits.Failure(app) == circuit.Opened {
			s.metrics.SetCircuitOpen(app, true)
			span.AddEvent(tracer.EventCircuitOpened)
			s.logger.WarnContext(ctx, "app handler failing repeatedly",
				"app_name", app,
				"open_circuits", s.circuits.OpenApps(),
			)
		}
	}
}

func (s *Service) logFailure(ctx context.Context, op operation, t target, label string, cause error) {
	args := append(t.logArgs(ctx), "operation", op.name, "outcome", label, "error", cause)
	switch label {
	case appmetrics.OutcomeDeclared, appmetrics.OutcomeCanceled:
		s.logger.InfoContext(ctx, "app handler returned an error", args...)
	case appmetrics.OutcomePanic:
		var hp *handlerPanic
		if errors.As(cause, &hp) {
			args = append(args, "stack", string(hp.stack))
		}
		s.logger.ErrorContext(ctx, "app handler panicked", args...)
	default:
		s.logger.ErrorContext(ctx, "app handler failed", args...)
	}
}
