package handler

import (
	"tempo/internal/apps/models"
	id "tempo/pkg/domain"
	dErrors "tempo/pkg/domain-errors"
	strutil "tempo/pkg/platform/strings"
	"tempo/pkg/platform/validation"
	appvalidation "tempo/pkg/validation"
)

// ScopeQuery is the query of GET /api/apps/by/scope.
type ScopeQuery struct {
	Scopes []string `validate:"required,min=1,dive,required,max=64"`
}

func (q *ScopeQuery) Normalize() {
	if q == nil {
		return
	}
	q.Scopes = strutil.DedupeAndTrimLower(q.Scopes)
}

func (q *ScopeQuery) Validate() error {
	if q == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if err := validation.CheckSliceCount("scopes", len(q.Scopes), validation.MaxScopes); err != nil {
		return err
	}
	return appvalidation.Validate(q)
}

func (q *ScopeQuery) ToScopes() []models.Scope {
	out := make([]models.Scope, len(q.Scopes))
	for i, s := range q.Scopes {
		out[i] = models.Scope(s)
	}
	return out
}

// AppNameParam is an app name taken from the URL path.
type AppNameParam struct {
	AppName string `validate:"required,appname"`
}

func (p *AppNameParam) Validate() error {
	return appvalidation.Validate(p)
}

// SubPath is the remainder of an app call URL.
type SubPath struct {
	Raw      string
	Segments []string
}

func (p *SubPath) Normalize() {
	p.Segments = strutil.SplitPath(p.Raw)
}

func (p *SubPath) Validate() error {
	if err := validation.CheckStringLength("sub_path", p.Raw, validation.MaxSubPathLength); err != nil {
		return err
	}
	if err := validation.CheckSliceCount("sub_path segments", len(p.Segments), validation.MaxSubPathSegments); err != nil {
		return err
	}
	if len(p.Segments) == 0 {
		return dErrors.New(dErrors.CodeBadRequest, "app call path is required")
	}
	return nil
}

func parseInstanceID(raw string) (id.InstanceID, error) {
	instanceID, err := id.ParseInstanceID(raw)
	if err != nil {
		return id.InstanceID{}, dErrors.New(dErrors.CodeBadRequest, "invalid app id")
	}
	return instanceID, nil
}
