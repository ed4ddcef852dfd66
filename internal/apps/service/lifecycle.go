package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"tempo/internal/apps/catalog"
	"tempo/internal/apps/models"
	id "tempo/pkg/domain"
	dErrors "tempo/pkg/domain-errors"
	"tempo/pkg/platform/middleware/requesttime"
	"tempo/pkg/platform/sentinel"
)

// ListDefinitions returns the app catalog.
func (s *Service) ListDefinitions(includeHidden bool) []catalog.Definition {
	return s.registry.ListAll(includeHidden)
}

func (s *Service) GetApp(ctx context.Context, companyID id.CompanyID, instanceID id.InstanceID) (*models.Instance, error) {
	inst, err := s.instances.FindByID(ctx, companyID, instanceID)
	if err != nil {
		return nil, wrapInstanceErr(err, "failed to load app instance")
	}
	return inst, nil
}

func (s *Service) ListApps(ctx context.Context, companyID id.CompanyID) ([]*models.Instance, error) {
	list, err := s.instances.ListByCompany(ctx, companyID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list app instances")
	}
	return list, nil
}

// ListAppsByScope returns the company's instances whose app belongs to any of
// scopes.
func (s *Service) ListAppsByScope(ctx context.Context, companyID id.CompanyID, scopes ...models.Scope) ([]*models.Instance, error) {
	if len(scopes) == 0 {
		return nil, dErrors.New(dErrors.CodeBadRequest, "at least one scope is required")
	}
	for _, scope := range scopes {
		if !s.registry.KnownScope(scope) {
			return nil, dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("unknown scope %q", scope))
		}
	}
	defs := s.registry.ListByScope(scopes...)
	names := make([]string, 0, len(defs))
	for _, d := range defs {
		names = append(names, d.Name)
	}
	list, err := s.instances.ListByAppNames(ctx, companyID, names...)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list app instances")
	}
	return list, nil
}

// ListAppsByName returns the company's instances of one app kind.
func (s *Service) ListAppsByName(ctx context.Context, companyID id.CompanyID, appName string) ([]*models.Instance, error) {
	if _, err := s.registry.Get(appName); err != nil {
		return nil, err
	}
	list, err := s.instances.ListByAppNames(ctx, companyID, appName)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list app instances")
	}
	return list, nil
}

// GetAppData returns the instance's data for the UI, post-processed by the
// handler when it implements AppDataProcessor.
func (s *Service) GetAppData(ctx context.Context, companyID id.CompanyID, instanceID id.InstanceID) (any, error) {
	inst, app, err := s.load(ctx, companyID, instanceID)
	if err != nil {
		return nil, err
	}
	p, ok := app.AppDataProcessor()
	if !ok {
		if len(inst.Data.Payload) == 0 {
			return json.RawMessage("null"), nil
		}
		return inst.Data.Payload, nil
	}
	return invoke(s, ctx, opAppData, instanceTarget(inst), func(ctx context.Context) (any, error) {
		return p.ProcessAppData(ctx, inst.Clone())
	})
}

// DeleteApp removes an instance. The handler's teardown hook runs first,
// best-effort and bounded by the delete hook timeout; its failure is logged
// and never blocks the delete.
func (s *Service) DeleteApp(ctx context.Context, companyID id.CompanyID, instanceID id.InstanceID) error {
	inst, err := s.instances.FindByID(ctx, companyID, instanceID)
	if err != nil {
		return wrapInstanceErr(err, "failed to load app instance")
	}
	t := instanceTarget(inst)

	app, err := s.resolver.Resolve(inst.AppName)
	if err != nil {
		s.logger.WarnContext(ctx, "deleting app instance without a handler", append(t.logArgs(ctx), "error", err)...)
	} else if hook, ok := app.DeleteHook(); ok {
		_, herr := invokeWithin(s, context.WithoutCancel(ctx), s.cfg.DeleteHookTimeout, opDelete, t,
			func(ctx context.Context) (struct{}, error) {
				return struct{}{}, hook.OnDelete(ctx, inst.Clone())
			})
		if herr != nil {
			s.metrics.IncrementDeleteHookFailure(inst.AppName)
			s.logger.WarnContext(ctx, "app teardown failed, deleting anyway", append(t.logArgs(ctx), "error", herr)...)
		}
	}

	err = s.locks.Do(lockKey(companyID, instanceID), func() error {
		return s.instances.Delete(ctx, companyID, instanceID)
	})
	if err != nil {
		return wrapInstanceErr(err, "failed to delete app instance")
	}
	s.logger.InfoContext(ctx, "app instance deleted", t.logArgs(ctx)...)
	s.publish(ctx, models.EventDeleted, inst, "")
	return nil
}

// ProvisionSystemApps installs every system app the company is missing. It
// is idempotent and safe to run concurrently.
func (s *Service) ProvisionSystemApps(ctx context.Context, companyID id.CompanyID) ([]*models.Instance, error) {
	if companyID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "company ID required")
	}
	now := requesttime.Now(ctx)
	var out []*models.Instance
	for _, def := range s.registry.ListByType(models.AppTypeSystem) {
		existing, err := s.findSingle(ctx, companyID, def.Name)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			out = append(out, existing)
			continue
		}
		inst, err := models.NewInstance(id.NewInstanceID(), companyID, def.Name, models.StatusConnected, now)
		if err != nil {
			return nil, err
		}
		if err := s.instances.Create(ctx, inst, def.AllowMultipleInstances); err != nil {
			if errors.Is(err, sentinel.ErrAlreadyUsed) {
				if existing, ferr := s.findSingle(ctx, companyID, def.Name); ferr == nil && existing != nil {
					out = append(out, existing)
					continue
				}
			}
			return nil, wrapCreateErr(err, def.Name)
		}
		s.metrics.IncrementTransition(def.Name, string(inst.Status))
		s.publish(ctx, models.EventConnected, inst, "")
		out = append(out, inst)
	}
	return out, nil
}

// InstallApp creates a pending instance of a user app. Apps configured with
// API keys move to connected through their own process request; OAuth apps
// through the redirect. A second install of a single-instance app fails with
// CodeDuplicateInstance.
func (s *Service) InstallApp(ctx context.Context, companyID id.CompanyID, appName string) (*models.Instance, error) {
	if companyID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "company ID required")
	}
	if _, err := s.resolver.Resolve(appName); err != nil {
		return nil, err
	}
	def, err := s.registry.Get(appName)
	if err != nil {
		return nil, err
	}
	if def.Type == models.AppTypeSystem {
		return nil, dErrors.New(dErrors.CodeForbidden, fmt.Sprintf("system app %q is provisioned by the platform", appName))
	}
	inst, err := models.NewInstance(id.NewInstanceID(), companyID, appName, models.StatusPending, requesttime.Now(ctx))
	if err != nil {
		return nil, err
	}
	if err := s.instances.Create(ctx, inst, def.AllowMultipleInstances); err != nil {
		return nil, wrapCreateErr(err, appName)
	}
	s.metrics.IncrementTransition(appName, string(inst.Status))
	s.logger.InfoContext(ctx, "app instance installed",
		"company_id", companyID.String(),
		"app_name", appName,
		"instance_id", inst.ID.String(),
	)
	return inst, nil
}
