package service

import (
	"context"
	"errors"
	"net/url"

	"tempo/internal/apps/capability"
	"tempo/internal/apps/models"
	"tempo/internal/apps/resolver"
	id "tempo/pkg/domain"
	dErrors "tempo/pkg/domain-errors"
	"tempo/pkg/platform/middleware/requesttime"
	"tempo/pkg/platform/sentinel"
)

// Reasons a redirect is rejected, used as metric labels.
const (
	rejectMissing  = "missing"
	rejectInvalid  = "invalid"
	rejectUnknown  = "unknown"
	rejectExpired  = "expired"
	rejectMismatch = "mismatch"
)

// RequestLoginURL starts an OAuth flow for an app kind. Single-instance apps
// get a pending instance so the UI can show the install in progress.
func (s *Service) RequestLoginURL(ctx context.Context, companyID id.CompanyID, appName string) (string, error) {
	if companyID.IsNil() {
		return "", dErrors.New(dErrors.CodeBadRequest, "company ID required")
	}
	app, err := s.resolver.Resolve(appName)
	if err != nil {
		return "", err
	}
	return s.requestLoginURL(ctx, companyID, app, nil)
}

// RequestLoginURLForInstance re-authorizes an existing instance.
func (s *Service) RequestLoginURLForInstance(ctx context.Context, companyID id.CompanyID, instanceID id.InstanceID) (string, error) {
	inst, app, err := s.load(ctx, companyID, instanceID)
	if err != nil {
		return "", err
	}
	return s.requestLoginURL(ctx, companyID, app, &inst.ID)
}

func (s *Service) requestLoginURL(ctx context.Context, companyID id.CompanyID, app *resolver.Resolved, instanceID *id.InstanceID) (string, error) {
	issuer, ok := app.LoginURLIssuer()
	if !ok {
		return "", opLoginURL.unsupported(app.Name())
	}
	now := requesttime.Now(ctx)

	state, expiresAt, err := s.signer.Mint(companyID, app.Name(), now)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to mint oauth state")
	}

	if instanceID == nil && !app.Definition.AllowMultipleInstances {
		inst, err := s.ensurePendingInstance(ctx, companyID, app.Name())
		if err != nil {
			return "", err
		}
		instanceID = &inst.ID
	}

	pending := &models.PendingAuthorization{
		State:      state,
		CompanyID:  companyID,
		AppName:    app.Name(),
		InstanceID: instanceID,
		CreatedAt:  now,
		ExpiresAt:  expiresAt,
	}
	if err := s.pending.Save(ctx, pending); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to store pending authorization")
	}
	s.metrics.IncrementPendingIssued()

	t := target{app: app.Name(), companyID: companyID}
	if instanceID != nil {
		t.instanceID = *instanceID
	}
	return invoke(s, ctx, opLoginURL, t, func(ctx context.Context) (string, error) {
		return issuer.RequestLoginURL(ctx, capability.LoginRequest{
			CompanyID:   companyID,
			InstanceID:  instanceID,
			State:       state,
			RedirectURI: s.RedirectURI(app.Name()),
		})
	})
}

// ensurePendingInstance returns the company's only instance of appName,
// creating it as pending when absent.
func (s *Service) ensurePendingInstance(ctx context.Context, companyID id.CompanyID, appName string) (*models.Instance, error) {
	if inst, err := s.findSingle(ctx, companyID, appName); err != nil || inst != nil {
		return inst, err
	}
	inst, err := models.NewInstance(id.NewInstanceID(), companyID, appName, models.StatusPending, requesttime.Now(ctx))
	if err != nil {
		return nil, err
	}
	if err := s.instances.Create(ctx, inst, false); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			// Another request installed it first.
			if existing, ferr := s.findSingle(ctx, companyID, appName); ferr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, wrapCreateErr(err, appName)
	}
	s.metrics.IncrementTransition(appName, string(models.StatusPending))
	return inst, nil
}

func (s *Service) findSingle(ctx context.Context, companyID id.CompanyID, appName string) (*models.Instance, error) {
	list, err := s.instances.ListByAppNames(ctx, companyID, appName)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list app instances")
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

// ProcessRedirect completes an OAuth flow. The state is verified, then
// consumed exactly once, before the handler sees the callback. On success the
// instance becomes connected with the handler's data; on failure an existing
// instance becomes failed and keeps its previous data.
func (s *Service) ProcessRedirect(ctx context.Context, appName string, query url.Values) (*models.Instance, error) {
	app, err := s.resolver.Resolve(appName)
	if err != nil {
		return nil, err
	}
	rp, ok := app.RedirectProcessor()
	if !ok {
		return nil, opRedirect.unsupported(appName)
	}

	pending, err := s.consumeState(ctx, app, query)
	if err != nil {
		return nil, err
	}
	now := requesttime.Now(ctx)

	existing, err := s.redirectInstance(ctx, pending, app)
	if err != nil {
		return nil, err
	}
	t := target{app: appName, companyID: pending.CompanyID}
	if existing != nil {
		t.instanceID = existing.ID
	}

	conn, err := invoke(s, ctx, opRedirect, t, func(ctx context.Context) (*capability.Connection, error) {
		return rp.ProcessRedirect(ctx, capability.RedirectRequest{
			CompanyID:   pending.CompanyID,
			Instance:    existing.Clone(),
			Query:       query,
			RedirectURI: s.RedirectURI(appName),
		})
	})
	if err == nil && conn == nil {
		err = opRedirect.failure(errors.New("handler returned no connection"))
	}
	if err != nil {
		if existing != nil {
			reason := publicReason(err, opRedirect)
			if _, merr := s.mutate(ctx, existing.CompanyID, existing.ID, func(cur *models.Instance) error {
				cur.MarkFailed(reason, now)
				return nil
			}); merr != nil {
				s.logger.ErrorContext(ctx, "failed to mark app instance failed",
					append(t.logArgs(ctx), "error", merr)...)
			}
		}
		return nil, err
	}

	if existing != nil {
		return s.mutate(ctx, existing.CompanyID, existing.ID, func(cur *models.Instance) error {
			cur.MarkConnected(&conn.Data, conn.Account, now)
			return nil
		})
	}
	return s.createConnected(ctx, pending.CompanyID, app, conn)
}

// consumeState verifies and consumes the OAuth state carried by query.
func (s *Service) consumeState(ctx context.Context, app *resolver.Resolved, query url.Values) (*models.PendingAuthorization, error) {
	state := query.Get("state")
	if ex, ok := app.StateExtractor(); ok {
		if v := ex.ExtractState(query); v != "" {
			state = v
		}
	}
	if state == "" {
		return nil, s.rejectState(ctx, rejectMissing, "missing oauth state")
	}
	now := requesttime.Now(ctx)
	claims, err := s.signer.Verify(state, app.Name(), now)
	if err != nil {
		s.metrics.IncrementPendingRejected(rejectInvalid)
		return nil, err
	}
	pending, err := s.pending.Consume(ctx, state, now)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return nil, s.rejectState(ctx, rejectUnknown, "oauth state already used or superseded")
	case errors.Is(err, sentinel.ErrExpired):
		return nil, s.rejectState(ctx, rejectExpired, "oauth state expired")
	case err != nil:
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to consume pending authorization")
	}
	if pending.AppName != app.Name() || pending.CompanyID.String() != claims.CompanyID {
		return nil, s.rejectState(ctx, rejectMismatch, "oauth state does not match this app")
	}
	return pending, nil
}

func (s *Service) rejectState(ctx context.Context, reason, msg string) error {
	s.metrics.IncrementPendingRejected(reason)
	s.logger.InfoContext(ctx, "oauth redirect rejected", "reason", reason)
	return dErrors.New(dErrors.CodeInvalidOrExpiredState, msg)
}

// redirectInstance finds the instance a redirect completes, or nil when a
// new one must be created.
func (s *Service) redirectInstance(ctx context.Context, pending *models.PendingAuthorization, app *resolver.Resolved) (*models.Instance, error) {
	if pending.InstanceID != nil {
		inst, err := s.instances.FindByID(ctx, pending.CompanyID, *pending.InstanceID)
		if err == nil {
			return inst, nil
		}
		if !errors.Is(err, sentinel.ErrNotFound) {
			return nil, wrapInstanceErr(err, "failed to load app instance")
		}
	}
	if app.Definition.AllowMultipleInstances {
		return nil, nil
	}
	return s.findSingle(ctx, pending.CompanyID, app.Name())
}

func (s *Service) createConnected(ctx context.Context, companyID id.CompanyID, app *resolver.Resolved, conn *capability.Connection) (*models.Instance, error) {
	now := requesttime.Now(ctx)
	inst, err := models.NewInstance(id.NewInstanceID(), companyID, app.Name(), models.StatusConnected, now)
	if err != nil {
		return nil, err
	}
	inst.MarkConnected(&conn.Data, conn.Account, now)
	allowMultiple := app.Definition.AllowMultipleInstances
	if err := s.instances.Create(ctx, inst, allowMultiple); err != nil {
		if !allowMultiple && errors.Is(err, sentinel.ErrAlreadyUsed) {
			existing, ferr := s.findSingle(ctx, companyID, app.Name())
			if ferr == nil && existing != nil {
				return s.mutate(ctx, companyID, existing.ID, func(cur *models.Instance) error {
					cur.MarkConnected(&conn.Data, conn.Account, now)
					return nil
				})
			}
		}
		return nil, wrapCreateErr(err, app.Name())
	}
	s.metrics.IncrementTransition(inst.AppName, string(inst.Status))
	s.publish(ctx, models.EventConnected, inst, "")
	return inst, nil
}
