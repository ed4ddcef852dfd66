package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"tempo/internal/apps/models"
	dErrors "tempo/pkg/domain-errors"
	tu "tempo/pkg/testutil"
)

func (s *GatewaySuite) TestListAppsByScope() {
	s.seed(tu.NewInstance(tu.TestIDs.CompanyA, calendarApp).Build(), false)
	s.seed(tu.NewInstance(tu.TestIDs.CompanyA, paymentsApp).Build(), true)
	s.seed(tu.NewInstance(tu.TestIDs.CompanyA, paymentsApp).Build(), true)
	s.seed(tu.NewInstance(tu.TestIDs.CompanyA, storageApp).Build(), true)
	s.seed(tu.NewInstance(tu.TestIDs.CompanyB, calendarApp).Build(), false)

	calendars, err := s.service.ListAppsByScope(s.ctx, tu.TestIDs.CompanyA, models.ScopeCalendar)
	s.Require().NoError(err)
	s.Len(calendars, 1)

	mixed, err := s.service.ListAppsByScope(s.ctx, tu.TestIDs.CompanyA, models.ScopePayments, models.ScopeStorage)
	s.Require().NoError(err)
	s.Len(mixed, 3)

	video, err := s.service.ListAppsByScope(s.ctx, tu.TestIDs.CompanyA, models.ScopeVideo)
	s.Require().NoError(err)
	s.Empty(video)

	_, err = s.service.ListAppsByScope(s.ctx, tu.TestIDs.CompanyA)
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))

	widgets, err := s.service.ListAppsByScope(s.ctx, tu.TestIDs.CompanyA, models.ScopeUIComponents)
	s.Require().NoError(err)
	s.Empty(widgets)

	_, err = s.service.ListAppsByScope(s.ctx, tu.TestIDs.CompanyA, models.ScopeCalendar, models.Scope("bogus"))
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
}

func (s *GatewaySuite) TestListAppsByName() {
	s.seed(tu.NewInstance(tu.TestIDs.CompanyA, paymentsApp).Build(), true)
	s.seed(tu.NewInstance(tu.TestIDs.CompanyA, paymentsApp).Build(), true)

	list, err := s.service.ListAppsByName(s.ctx, tu.TestIDs.CompanyA, paymentsApp)
	s.Require().NoError(err)
	s.Len(list, 2)

	_, err = s.service.ListAppsByName(s.ctx, tu.TestIDs.CompanyA, "nope")
	s.True(dErrors.HasCode(err, dErrors.CodeUnknownApp))
}

func (s *GatewaySuite) TestListDefinitionsHidesHidden() {
	s.Len(s.service.ListDefinitions(false), 4)
	s.Len(s.service.ListDefinitions(true), 5)
}

func (s *GatewaySuite) TestGetAppData() {
	plain := s.seed(tu.NewInstance(tu.TestIDs.CompanyA, calendarApp).WithData("test-calendar/v1", map[string]string{"k": "v"}).Build(), false)
	redacted := s.seed(tu.NewInstance(tu.TestIDs.CompanyA, paymentsApp).WithData("test-payments/v1", map[string]string{"secret": "sk_live"}).Build(), true)

	data, err := s.service.GetAppData(s.ctx, tu.TestIDs.CompanyA, plain.ID)
	s.Require().NoError(err)
	s.JSONEq(`{"k":"v"}`, string(data.(json.RawMessage)))

	data, err = s.service.GetAppData(s.ctx, tu.TestIDs.CompanyA, redacted.ID)
	s.Require().NoError(err)
	s.Equal(map[string]string{"schema": "test-payments/v1", "secret": "redacted"}, data)
}

func (s *GatewaySuite) TestDeleteHookTimeoutStillDeletes() {
	s.cfg.DeleteHookTimeout = 20 * time.Millisecond
	s.rebuild()
	inst := s.seed(tu.NewInstance(tu.TestIDs.CompanyA, calendarApp).Build(), false)
	s.calendar.onDelete = func(ctx context.Context, _ *models.Instance) error {
		<-ctx.Done()
		return ctx.Err()
	}

	s.Require().NoError(s.service.DeleteApp(s.ctx, tu.TestIDs.CompanyA, inst.ID))

	_, err := s.service.GetApp(s.ctx, tu.TestIDs.CompanyA, inst.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeInstanceNotFound))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.DeleteHookFailures.WithLabelValues(calendarApp)))
	s.Equal([]models.EventType{models.EventDeleted}, s.publisher.types())
}

func (s *GatewaySuite) TestDeleteWithoutHandler() {
	orphan := s.seed(tu.NewInstance(tu.TestIDs.CompanyA, orphanApp).Build(), false)

	s.Require().NoError(s.service.DeleteApp(s.ctx, tu.TestIDs.CompanyA, orphan.ID))
	err := s.service.DeleteApp(s.ctx, tu.TestIDs.CompanyA, orphan.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeInstanceNotFound))
}

func (s *GatewaySuite) TestProvisionSystemAppsIsIdempotent() {
	result := tu.RunConcurrent(10, func(int) error {
		_, err := s.service.ProvisionSystemApps(s.ctx, tu.TestIDs.CompanyA)
		return err
	})
	s.Equal(int32(10), result.Successes)

	list, err := s.service.ListAppsByName(s.ctx, tu.TestIDs.CompanyA, systemApp)
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	s.Equal(models.StatusConnected, list[0].Status)
}

func (s *GatewaySuite) TestDuplicatePendingInstanceIsReused() {
	result := tu.RunConcurrent(10, func(int) error {
		_, err := s.service.RequestLoginURL(s.ctx, tu.TestIDs.CompanyA, calendarApp)
		return err
	})
	s.Equal(int32(10), result.Successes)

	list, err := s.service.ListAppsByName(s.ctx, tu.TestIDs.CompanyA, calendarApp)
	s.Require().NoError(err)
	s.Len(list, 1)
}

func (s *GatewaySuite) TestInstallApp() {
	first, err := s.service.InstallApp(s.ctx, tu.TestIDs.CompanyA, paymentsApp)
	s.Require().NoError(err)
	s.Equal(models.StatusPending, first.Status)
	second, err := s.service.InstallApp(s.ctx, tu.TestIDs.CompanyA, paymentsApp)
	s.Require().NoError(err)
	s.NotEqual(first.ID, second.ID)

	_, err = s.service.InstallApp(s.ctx, tu.TestIDs.CompanyA, calendarApp)
	s.Require().NoError(err)
	_, err = s.service.InstallApp(s.ctx, tu.TestIDs.CompanyA, calendarApp)
	s.True(dErrors.HasCode(err, dErrors.CodeDuplicateInstance))

	_, err = s.service.InstallApp(s.ctx, tu.TestIDs.CompanyA, systemApp)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	_, err = s.service.InstallApp(s.ctx, tu.TestIDs.CompanyA, "no-such-app")
	s.True(dErrors.HasCode(err, dErrors.CodeUnknownApp))

	list, err := s.service.ListAppsByName(s.ctx, tu.TestIDs.CompanyA, paymentsApp)
	s.Require().NoError(err)
	s.Len(list, 2)
}
