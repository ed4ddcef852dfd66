package service

import (
	"context"
	"errors"

	"tempo/internal/apps/models"
	id "tempo/pkg/domain"
	dErrors "tempo/pkg/domain-errors"
	"tempo/pkg/platform/middleware/requesttime"
	"tempo/pkg/platform/sentinel"
)

// casAttempts is how many compare-and-swap writes mutate tries before giving up.
const casAttempts = 2

func lockKey(companyID id.CompanyID, instanceID id.InstanceID) string {
	return companyID.String() + "/" + instanceID.String()
}

// mutate reads the instance, applies change and writes it back with a
// compare-and-swap on Version. A lost race is retried once against a fresh
// read; a second loss is CodeConcurrentModification. Writers in this process
// are serialised per instance so only cross-process writers can race.
func (s *Service) mutate(ctx context.Context, companyID id.CompanyID, instanceID id.InstanceID, change func(*models.Instance) error) (*models.Instance, error) {
	key := lockKey(companyID, instanceID)
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	for range casAttempts {
		inst, err := s.instances.FindByID(ctx, companyID, instanceID)
		if err != nil {
			return nil, wrapInstanceErr(err, "failed to load app instance")
		}
		before := inst.Status
		expected := inst.Version
		if err := change(inst); err != nil {
			return nil, err
		}
		err = s.instances.Update(ctx, inst, expected)
		if err == nil {
			s.afterTransition(ctx, before, inst)
			return inst, nil
		}
		if !errors.Is(err, sentinel.ErrConflict) {
			return nil, wrapInstanceErr(err, "failed to update app instance")
		}
	}
	return nil, s.concurrentModification(ctx, companyID, instanceID)
}

// applyDelta persists a handler-reported change. The handler computed delta
// from snapshot, so the write is a compare-and-swap on snapshot.Version: if
// the row moved in between, the change is refused rather than replayed over
// newer data. It runs only after the handler succeeded and never once the
// caller has gone away.
func (s *Service) applyDelta(ctx context.Context, op operation, snapshot *models.Instance, delta *models.InstanceDelta) (*models.Instance, error) {
	if delta.IsEmpty() {
		return snapshot, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeTimeout, "request canceled before the change was saved")
	}
	key := lockKey(snapshot.CompanyID, snapshot.ID)
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	cur, err := s.instances.FindByID(ctx, snapshot.CompanyID, snapshot.ID)
	if err != nil {
		return nil, wrapInstanceErr(err, "failed to load app instance")
	}
	if cur.Version != snapshot.Version {
		return nil, s.concurrentModification(ctx, snapshot.CompanyID, snapshot.ID)
	}
	before := cur.Status
	if err := cur.Apply(delta, requesttime.Now(ctx)); err != nil {
		return nil, op.failure(err)
	}
	if err := s.instances.Update(ctx, cur, snapshot.Version); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, s.concurrentModification(ctx, snapshot.CompanyID, snapshot.ID)
		}
		return nil, wrapInstanceErr(err, "failed to update app instance")
	}
	s.afterTransition(ctx, before, cur)
	return cur, nil
}

func (s *Service) concurrentModification(ctx context.Context, companyID id.CompanyID, instanceID id.InstanceID) error {
	s.metrics.IncrementConflict()
	s.logger.WarnContext(ctx, "app instance modified concurrently",
		"company_id", companyID.String(),
		"instance_id", instanceID.String(),
	)
	return dErrors.New(dErrors.CodeConcurrentModification, "app instance was modified concurrently, retry the request")
}

// afterTransition records metrics and lifecycle events for a status change.
func (s *Service) afterTransition(ctx context.Context, before models.Status, inst *models.Instance) {
	if before == inst.Status {
		return
	}
	s.metrics.IncrementTransition(inst.AppName, string(inst.Status))
	switch inst.Status {
	case models.StatusConnected:
		s.publish(ctx, models.EventConnected, inst, "")
	case models.StatusFailed:
		s.publish(ctx, models.EventFailed, inst, inst.LastError)
	}
}

// publish emits a lifecycle event. Failures are logged and counted; they
// never fail the operation that caused the event.
func (s *Service) publish(ctx context.Context, typ models.EventType, inst *models.Instance, reason string) {
	if s.publisher == nil {
		return
	}
	evt := models.LifecycleEvent{
		Type:       typ,
		CompanyID:  inst.CompanyID,
		InstanceID: inst.ID,
		AppName:    inst.AppName,
		Reason:     reason,
		OccurredAt: requesttime.Now(ctx),
	}
	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.metrics.IncrementEventPublishFailure()
		s.logger.ErrorContext(ctx, "failed to publish app lifecycle event",
			"event_type", string(typ),
			"company_id", inst.CompanyID.String(),
			"instance_id", inst.ID.String(),
			"error", err,
		)
	}
}
