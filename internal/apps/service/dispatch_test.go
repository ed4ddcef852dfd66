package service

import (
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"tempo/internal/apps/capability"
	"tempo/internal/apps/models"
	id "tempo/pkg/domain"
	dErrors "tempo/pkg/domain-errors"
	"tempo/pkg/platform/httputil"
	tu "tempo/pkg/testutil"
)

func (s *GatewaySuite) TestProcessRequestAppliesDelta() {
	inst := s.seed(tu.NewInstance(tu.TestIDs.CompanyA, calendarApp).Build(), false)
	failed := models.StatusFailed
	reason := "token revoked"
	s.calendar.request = func(_ context.Context, _ *models.Instance, _ json.RawMessage) (*capability.Result, error) {
		return &capability.Result{Body: "done", Delta: &models.InstanceDelta{Status: &failed, LastError: &reason}}, nil
	}

	res, err := s.service.ProcessRequest(s.ctx, tu.TestIDs.CompanyA, inst.ID, json.RawMessage(`{}`))
	s.Require().NoError(err)
	s.Equal("done", res.Body)

	stored := s.get(tu.TestIDs.CompanyA, inst.ID)
	s.Equal(models.StatusFailed, stored.Status)
	s.Equal(reason, stored.LastError)
	s.Equal(int64(2), stored.Version)
	s.Contains(s.publisher.types(), models.EventFailed)
}

func (s *GatewaySuite) TestTenantIsolation() {
	inst := s.seed(tu.NewInstance(tu.TestIDs.CompanyA, calendarApp).Build(), false)

	s.Run("other company cannot read", func() {
		_, err := s.service.GetApp(s.ctx, tu.TestIDs.CompanyB, inst.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeInstanceNotFound))
	})
	s.Run("other company cannot invoke", func() {
		_, err := s.service.ProcessRequest(s.ctx, tu.TestIDs.CompanyB, inst.ID, nil)
		s.True(dErrors.HasCode(err, dErrors.CodeInstanceNotFound))
	})
	s.Run("other company cannot delete", func() {
		err := s.service.DeleteApp(s.ctx, tu.TestIDs.CompanyB, inst.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeInstanceNotFound))
		s.get(tu.TestIDs.CompanyA, inst.ID)
	})
	s.Run("other company lists nothing", func() {
		list, err := s.service.ListApps(s.ctx, tu.TestIDs.CompanyB)
		s.Require().NoError(err)
		s.Empty(list)
	})
}

func (s *GatewaySuite) TestPlainHandlerErrorIsOperationFailure() {
	inst := s.seed(tu.NewInstance(tu.TestIDs.CompanyA, calendarApp).WithData("test-calendar/v1", map[string]string{"token": "t1"}).Build(), false)

	cases := map[string]func(context.Context, *models.Instance, json.RawMessage) (*capability.Result, error){
		"error": func(context.Context, *models.Instance, json.RawMessage) (*capability.Result, error) {
			return nil, errors.New("dial tcp 10.0.0.1:443: connection refused")
		},
		"panic": func(context.Context, *models.Instance, json.RawMessage) (*capability.Result, error) {
			panic("nil map")
		},
	}
	for name, fn := range cases {
		s.Run(name, func() {
			s.calendar.request = fn
			_, err := s.service.ProcessRequest(s.ctx, tu.TestIDs.CompanyA, inst.ID, nil)
			s.Require().Error(err)

			status, env := httputil.ErrorResponse(err)
			s.Equal(http.StatusInternalServerError, status)
			s.Equal("process_app_request_failed", env.Code)
			s.NotContains(env.Error, "10.0.0.1")

			stored := s.get(tu.TestIDs.CompanyA, inst.ID)
			s.JSONEq(`{"token":"t1"}`, string(stored.Data.Payload))
			s.Equal(int64(1), stored.Version)
		})
	}
}

func (s *GatewaySuite) TestDeclaredErrorPassesThrough() {
	inst := s.seed(tu.NewInstance(tu.TestIDs.CompanyA, calendarApp).Build(), false)
	s.calendar.request = func(context.Context, *models.Instance, json.RawMessage) (*capability.Result, error) {
		return nil, capability.NewAppRequestError(http.StatusUnprocessableEntity, "calendar_full", "calendar is full").
			WithData(map[string]int{"free": 0})
	}

	_, err := s.service.ProcessRequest(s.ctx, tu.TestIDs.CompanyA, inst.ID, nil)
	status, env := httputil.ErrorResponse(err)
	s.Equal(http.StatusUnprocessableEntity, status)
	s.Equal("calendar_full", env.Code)
	s.Equal("calendar is full", env.Error)
	s.Equal(map[string]int{"free": 0}, env.Data)
}

func (s *GatewaySuite) TestHandlerTimeout() {
	s.cfg.HandlerTimeout = 20 * time.Millisecond
	s.rebuild()
	inst := s.seed(tu.NewInstance(tu.TestIDs.CompanyA, calendarApp).Build(), false)
	failed := models.StatusFailed
	s.calendar.request = func(ctx context.Context, _ *models.Instance, _ json.RawMessage) (*capability.Result, error) {
		<-ctx.Done()
		return &capability.Result{Delta: &models.InstanceDelta{Status: &failed}}, nil
	}

	_, err := s.service.ProcessRequest(s.ctx, tu.TestIDs.CompanyA, inst.ID, nil)
	s.True(dErrors.HasCode(err, dErrors.CodeHandlerTimeout))
	status, env := httputil.ErrorResponse(err)
	s.Equal(http.StatusGatewayTimeout, status)
	s.Equal("handler_timeout", env.Code)
	s.Equal(models.StatusConnected, s.get(tu.TestIDs.CompanyA, inst.ID).Status)
}

func (s *GatewaySuite) TestCircuitOpensAfterRepeatedFailures() {
	inst := s.seed(tu.NewInstance(tu.TestIDs.CompanyA, calendarApp).Build(), false)
	s.calendar.request = func(context.Context, *models.Instance, json.RawMessage) (*capability.Result, error) {
		return nil, errors.New("upstream 503")
	}
	for range 2 {
		_, err := s.service.ProcessRequest(s.ctx, tu.TestIDs.CompanyA, inst.ID, nil)
		s.Require().Error(err)
	}
	s.Equal(1.0, testutil.ToFloat64(s.metrics.CircuitOpen.WithLabelValues(calendarApp)))
	s.Equal(2.0, testutil.ToFloat64(s.metrics.HandlerCalls.WithLabelValues(calendarApp, "process_request", "error")))
	s.Equal([]string{calendarApp}, s.service.FailingApps())
}

func (s *GatewaySuite) TestMissingCapabilityIsUnknownHandler() {
	storage := s.seed(tu.NewInstance(tu.TestIDs.CompanyA, storageApp).Build(), true)
	payments := s.seed(tu.NewInstance(tu.TestIDs.CompanyA, paymentsApp).Build(), true)
	r := httptest.NewRequest(http.MethodGet, "/api/apps/x/call/nope", nil)

	s.Run("app call on app without app calls", func() {
		_, err := s.service.ProcessAppCall(s.ctx, tu.TestIDs.CompanyA, storage.ID, []string{"files"}, r)
		s.assertUnknownHandler(err)
	})
	s.Run("app call with no matching route", func() {
		_, err := s.service.ProcessAppCall(s.ctx, tu.TestIDs.CompanyA, payments.ID, []string{"nope"}, r)
		s.assertUnknownHandler(err)
	})
	s.Run("webhook on app without webhooks", func() {
		_, err := s.service.ProcessWebhook(s.ctx, tu.TestIDs.CompanyA, storage.ID, &capability.WebhookRequest{})
		s.assertUnknownHandler(err)
	})
	s.Run("request on app without requests", func() {
		_, err := s.service.ProcessRequest(s.ctx, tu.TestIDs.CompanyA, storage.ID, nil)
		s.assertUnknownHandler(err)
	})
}

func (s *GatewaySuite) assertUnknownHandler(err error) {
	s.Require().Error(err)
	status, env := httputil.ErrorResponse(err)
	s.Equal(http.StatusNotFound, status)
	s.Equal("unknown_handler", env.Code)
}

func (s *GatewaySuite) TestAppCallPassthrough() {
	payments := s.seed(tu.NewInstance(tu.TestIDs.CompanyA, paymentsApp).Build(), true)
	r := httptest.NewRequest(http.MethodGet, "/api/apps/x/call/balance", nil)

	resp, err := s.service.ProcessAppCall(s.ctx, tu.TestIDs.CompanyA, payments.ID, []string{"balance"}, r)
	s.Require().NoError(err)
	s.Equal(http.StatusOK, resp.Status)
	s.JSONEq(`{"balance":10}`, string(resp.Body))
}

func (s *GatewaySuite) TestMisconfiguredApp() {
	orphan := s.seed(tu.NewInstance(tu.TestIDs.CompanyA, orphanApp).Build(), false)

	_, err := s.service.ProcessRequest(s.ctx, tu.TestIDs.CompanyA, orphan.ID, nil)
	status, env := httputil.ErrorResponse(err)
	s.Equal(http.StatusInternalServerError, status)
	s.Equal("app_handler_misconfigured", env.Code)
}

func (s *GatewaySuite) TestStaticRequestSkipsStore() {
	res, err := s.service.ProcessStaticRequest(s.ctx, paymentsApp, json.RawMessage(`{"key":"sk_test"}`))
	s.Require().NoError(err)
	s.Equal(map[string]any{"valid": true}, res.Body)
	s.Nil(res.Delta)

	_, err = s.service.ProcessStaticRequest(s.ctx, "no-such-app", nil)
	s.True(dErrors.HasCode(err, dErrors.CodeUnknownApp))
}

func (s *GatewaySuite) TestFormRequest() {
	storage := s.seed(tu.NewInstance(tu.TestIDs.CompanyA, storageApp).Build(), true)
	form := &multipart.Form{Value: map[string][]string{"folder": {"logos"}, "name": {"a.png"}}}

	res, err := s.service.ProcessFormRequest(s.ctx, tu.TestIDs.CompanyA, storage.ID, form)
	s.Require().NoError(err)
	s.Equal(map[string]int{"fields": 2}, res.Body)
}

func (s *GatewaySuite) TestInstanceWebhookAppliesDelta() {
	payments := s.seed(tu.NewInstance(tu.TestIDs.CompanyA, paymentsApp).Build(), true)

	resp, err := s.service.ProcessWebhook(s.ctx, tu.TestIDs.CompanyA, payments.ID, &capability.WebhookRequest{Body: []byte(`{"event":"charge"}`)})
	s.Require().NoError(err)
	s.Equal(http.StatusAccepted, resp.Status)
	s.JSONEq(`{"event":"charge"}`, string(s.get(tu.TestIDs.CompanyA, payments.ID).Data.Payload))
}

func (s *GatewaySuite) TestWebhookNilResponseAcknowledges() {
	inst := s.seed(tu.NewInstance(tu.TestIDs.CompanyA, calendarApp).Build(), false)

	resp, err := s.service.ProcessWebhook(s.ctx, tu.TestIDs.CompanyA, inst.ID, &capability.WebhookRequest{})
	s.Require().NoError(err)
	s.Equal(http.StatusOK, resp.Status)
}

func (s *GatewaySuite) TestCanceledWebhookNeverWrites() {
	inst := s.seed(tu.NewInstance(tu.TestIDs.CompanyA, calendarApp).Build(), false)
	ctx, cancel := context.WithCancel(s.ctx)
	failed := models.StatusFailed
	s.calendar.webhook = func(context.Context, *models.Instance, *capability.WebhookRequest) (*capability.RawResponse, error) {
		cancel()
		return &capability.RawResponse{Status: http.StatusOK, Delta: &models.InstanceDelta{Status: &failed}}, nil
	}

	_, err := s.service.ProcessWebhook(ctx, tu.TestIDs.CompanyA, inst.ID, &capability.WebhookRequest{})
	s.Require().Error(err)
	s.Equal(models.StatusConnected, s.get(tu.TestIDs.CompanyA, inst.ID).Status)
}

func (s *GatewaySuite) TestConcurrentWebhooksNeverLoseAnUpdate() {
	inst := s.seed(tu.NewInstance(tu.TestIDs.CompanyA, calendarApp).WithData("test-calendar/v1", map[string]int{"n": 0}).Build(), false)
	seeded := s.get(tu.TestIDs.CompanyA, inst.ID).Version

	// Both deliveries read the same snapshot before either writes.
	var bothRead sync.WaitGroup
	bothRead.Add(2)
	s.calendar.webhook = func(_ context.Context, snap *models.Instance, _ *capability.WebhookRequest) (*capability.RawResponse, error) {
		var counter struct {
			N int `json:"n"`
		}
		if err := json.Unmarshal(snap.Data.Payload, &counter); err != nil {
			return nil, err
		}
		bothRead.Done()
		bothRead.Wait()
		payload, _ := json.Marshal(map[string]int{"n": counter.N + 1})
		data := models.AppData{Schema: "test-calendar/v1", Payload: payload}
		return &capability.RawResponse{Status: http.StatusOK, Delta: &models.InstanceDelta{Data: &data}}, nil
	}

	errs := make([]error, 2)
	var done sync.WaitGroup
	for i := range errs {
		done.Add(1)
		go func() {
			defer done.Done()
			_, errs[i] = s.service.ProcessWebhook(s.ctx, tu.TestIDs.CompanyA, inst.ID, &capability.WebhookRequest{})
		}()
	}
	done.Wait()

	var succeeded, conflicted int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case dErrors.HasCode(err, dErrors.CodeConcurrentModification):
			conflicted++
		default:
			s.Failf("unexpected error", "%v", err)
		}
	}
	s.Equal(1, succeeded)
	s.Equal(1, conflicted)

	stored := s.get(tu.TestIDs.CompanyA, inst.ID)
	s.JSONEq(`{"n":1}`, string(stored.Data.Payload))
	s.Equal(seeded+1, stored.Version)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.ConcurrentConflicts))
}

func (s *GatewaySuite) TestStaleSnapshotIsRefused() {
	inst := s.seed(tu.NewInstance(tu.TestIDs.CompanyA, calendarApp).Build(), false)
	failed := models.StatusFailed
	s.calendar.webhook = func(ctx context.Context, snap *models.Instance, _ *capability.WebhookRequest) (*capability.RawResponse, error) {
		// Another writer lands while the handler is running.
		moved := snap.Clone()
		moved.LastError = "touched elsewhere"
		if err := s.instances.Update(ctx, moved, snap.Version); err != nil {
			return nil, err
		}
		return &capability.RawResponse{Status: http.StatusOK, Delta: &models.InstanceDelta{Status: &failed}}, nil
	}

	_, err := s.service.ProcessWebhook(s.ctx, tu.TestIDs.CompanyA, inst.ID, &capability.WebhookRequest{})
	s.True(dErrors.HasCode(err, dErrors.CodeConcurrentModification))
	stored := s.get(tu.TestIDs.CompanyA, inst.ID)
	s.Equal(models.StatusConnected, stored.Status)
	s.Equal("touched elsewhere", stored.LastError)
}

func (s *GatewaySuite) TestAppWebhookRouting() {
	mine := s.seed(tu.NewInstance(tu.TestIDs.CompanyA, paymentsApp).Build(), true)
	calendar := s.seed(tu.NewInstance(tu.TestIDs.CompanyA, calendarApp).Build(), false)

	s.Run("delivers to the named instance", func() {
		s.payments.route = func(*capability.WebhookRequest) *capability.WebhookTarget {
			return &capability.WebhookTarget{CompanyID: tu.TestIDs.CompanyA, InstanceID: mine.ID}
		}
		_, err := s.service.ProcessAppWebhook(s.ctx, paymentsApp, &capability.WebhookRequest{Body: []byte(`{"n":1}`)})
		s.Require().NoError(err)
		s.JSONEq(`{"n":1}`, string(s.get(tu.TestIDs.CompanyA, mine.ID).Data.Payload))
	})
	s.Run("claimed instance in another company", func() {
		s.payments.route = func(*capability.WebhookRequest) *capability.WebhookTarget {
			return &capability.WebhookTarget{CompanyID: tu.TestIDs.CompanyB, InstanceID: mine.ID}
		}
		_, err := s.service.ProcessAppWebhook(s.ctx, paymentsApp, &capability.WebhookRequest{})
		s.True(dErrors.HasCode(err, dErrors.CodeInstanceNotFound))
	})
	s.Run("claimed instance of another app", func() {
		s.payments.route = func(*capability.WebhookRequest) *capability.WebhookTarget {
			return &capability.WebhookTarget{CompanyID: tu.TestIDs.CompanyA, InstanceID: calendar.ID}
		}
		_, err := s.service.ProcessAppWebhook(s.ctx, paymentsApp, &capability.WebhookRequest{})
		s.True(dErrors.HasCode(err, dErrors.CodeInstanceNotFound))
	})
	s.Run("app without a router", func() {
		_, err := s.service.ProcessAppWebhook(s.ctx, calendarApp, &capability.WebhookRequest{})
		s.assertUnknownHandler(err)
	})
	s.Run("no target", func() {
		s.payments.route = func(*capability.WebhookRequest) *capability.WebhookTarget {
			return &capability.WebhookTarget{CompanyID: tu.TestIDs.CompanyA, InstanceID: id.InstanceID{}}
		}
		_, err := s.service.ProcessAppWebhook(s.ctx, paymentsApp, &capability.WebhookRequest{})
		s.True(dErrors.HasCode(err, dErrors.CodeInstanceNotFound))
	})
}
