package service

import (
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"

	"tempo/internal/apps/capability"
	"tempo/internal/apps/models"
	"tempo/internal/apps/resolver"
	id "tempo/pkg/domain"
	dErrors "tempo/pkg/domain-errors"
)

// load returns the company's instance and its resolved handler.
func (s *Service) load(ctx context.Context, companyID id.CompanyID, instanceID id.InstanceID) (*models.Instance, *resolver.Resolved, error) {
	if companyID.IsNil() {
		return nil, nil, dErrors.New(dErrors.CodeBadRequest, "company ID required")
	}
	inst, err := s.instances.FindByID(ctx, companyID, instanceID)
	if err != nil {
		return nil, nil, wrapInstanceErr(err, "failed to load app instance")
	}
	app, err := s.resolver.Resolve(inst.AppName)
	if err != nil {
		return nil, nil, err
	}
	return inst, app, nil
}

func instanceTarget(inst *models.Instance) target {
	return target{app: inst.AppName, companyID: inst.CompanyID, instanceID: inst.ID}
}

// ProcessRequest sends a JSON request to the instance's handler and persists
// the change it reports.
func (s *Service) ProcessRequest(ctx context.Context, companyID id.CompanyID, instanceID id.InstanceID, body json.RawMessage) (*capability.Result, error) {
	inst, app, err := s.load(ctx, companyID, instanceID)
	if err != nil {
		return nil, err
	}
	p, ok := app.RequestProcessor()
	if !ok {
		return nil, opProcessRequest.unsupported(inst.AppName)
	}
	res, err := invoke(s, ctx, opProcessRequest, instanceTarget(inst), func(ctx context.Context) (*capability.Result, error) {
		return p.ProcessRequest(ctx, inst.Clone(), body)
	})
	if err != nil {
		return nil, err
	}
	return s.finishResult(ctx, opProcessRequest, inst, res)
}

// ProcessStaticRequest calls an app kind without an installed instance, for
// example to validate credentials before installing.
func (s *Service) ProcessStaticRequest(ctx context.Context, appName string, body json.RawMessage) (*capability.Result, error) {
	app, err := s.resolver.Resolve(appName)
	if err != nil {
		return nil, err
	}
	p, ok := app.StaticRequestProcessor()
	if !ok {
		return nil, opStaticRequest.unsupported(appName)
	}
	res, err := invoke(s, ctx, opStaticRequest, target{app: appName}, func(ctx context.Context) (*capability.Result, error) {
		return p.ProcessStaticRequest(ctx, body)
	})
	if err != nil {
		return nil, err
	}
	if res == nil {
		res = &capability.Result{}
	}
	// There is no instance to apply a change to.
	res.Delta = nil
	return res, nil
}

// ProcessFormRequest hands a multipart form to the instance's handler.
func (s *Service) ProcessFormRequest(ctx context.Context, companyID id.CompanyID, instanceID id.InstanceID, form *multipart.Form) (*capability.Result, error) {
	inst, app, err := s.load(ctx, companyID, instanceID)
	if err != nil {
		return nil, err
	}
	p, ok := app.FormProcessor()
	if !ok {
		return nil, opFormRequest.unsupported(inst.AppName)
	}
	res, err := invoke(s, ctx, opFormRequest, instanceTarget(inst), func(ctx context.Context) (*capability.Result, error) {
		return p.ProcessFormRequest(ctx, inst.Clone(), form)
	})
	if err != nil {
		return nil, err
	}
	return s.finishResult(ctx, opFormRequest, inst, res)
}

// ProcessAppCall forwards a call under the instance's nested sub-API. A
// handler with no route for subPath yields CodeCapabilityNotSupported.
func (s *Service) ProcessAppCall(ctx context.Context, companyID id.CompanyID, instanceID id.InstanceID, subPath []string, r *http.Request) (*capability.RawResponse, error) {
	inst, app, err := s.load(ctx, companyID, instanceID)
	if err != nil {
		return nil, err
	}
	p, ok := app.AppCallProcessor()
	if !ok {
		return nil, opAppCall.unsupported(inst.AppName)
	}
	resp, err := invoke(s, ctx, opAppCall, instanceTarget(inst), func(ctx context.Context) (*capability.RawResponse, error) {
		return p.ProcessAppCall(ctx, inst.Clone(), subPath, r.WithContext(ctx))
	})
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, opAppCall.unsupported(inst.AppName)
	}
	if _, err := s.applyDelta(ctx, opAppCall, inst, resp.Delta); err != nil {
		return nil, err
	}
	return resp, nil
}

// ProcessWebhook delivers a provider callback addressed to a known instance.
// A nil handler response acknowledges with an empty 200.
func (s *Service) ProcessWebhook(ctx context.Context, companyID id.CompanyID, instanceID id.InstanceID, req *capability.WebhookRequest) (*capability.RawResponse, error) {
	inst, app, err := s.load(ctx, companyID, instanceID)
	if err != nil {
		return nil, err
	}
	return s.deliverWebhook(ctx, inst, app, req)
}

// ProcessAppWebhook delivers a callback addressed to an app kind. The
// handler names the target from the provider payload and the gateway checks
// that the instance exists in that company before delivering.
func (s *Service) ProcessAppWebhook(ctx context.Context, appName string, req *capability.WebhookRequest) (*capability.RawResponse, error) {
	app, err := s.resolver.Resolve(appName)
	if err != nil {
		return nil, err
	}
	router, ok := app.WebhookRouter()
	if !ok {
		return nil, opWebhook.unsupported(appName)
	}
	dest, err := invoke(s, ctx, opWebhook, target{app: appName}, func(ctx context.Context) (*capability.WebhookTarget, error) {
		return router.WebhookTarget(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	if dest == nil || dest.CompanyID.IsNil() || dest.InstanceID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInstanceNotFound, "webhook does not name an app instance")
	}
	inst, err := s.instances.FindByID(ctx, dest.CompanyID, dest.InstanceID)
	if err != nil {
		return nil, wrapInstanceErr(err, "failed to load app instance")
	}
	if inst.AppName != appName {
		return nil, dErrors.New(dErrors.CodeInstanceNotFound, "app instance not found")
	}
	return s.deliverWebhook(ctx, inst, app, req)
}

func (s *Service) deliverWebhook(ctx context.Context, inst *models.Instance, app *resolver.Resolved, req *capability.WebhookRequest) (*capability.RawResponse, error) {
	p, ok := app.WebhookProcessor()
	if !ok {
		return nil, opWebhook.unsupported(inst.AppName)
	}
	resp, err := invoke(s, ctx, opWebhook, instanceTarget(inst), func(ctx context.Context) (*capability.RawResponse, error) {
		return p.ProcessWebhook(ctx, inst.Clone(), req)
	})
	if err != nil {
		return nil, err
	}
	if resp == nil {
		resp = &capability.RawResponse{Status: http.StatusOK}
	}
	if _, err := s.applyDelta(ctx, opWebhook, inst, resp.Delta); err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *Service) finishResult(ctx context.Context, op operation, inst *models.Instance, res *capability.Result) (*capability.Result, error) {
	if res == nil {
		return &capability.Result{}, nil
	}
	if _, err := s.applyDelta(ctx, op, inst, res.Delta); err != nil {
		return nil, err
	}
	return res, nil
}
