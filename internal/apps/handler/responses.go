package handler

import (
	"time"

	"tempo/internal/apps/catalog"
	"tempo/internal/apps/models"
)

type InstanceResponse struct {
	ID         string          `json:"id"`
	CompanyID  string          `json:"company_id"`
	AppName    string          `json:"app_name"`
	Status     models.Status   `json:"status"`
	Account    *models.Account `json:"account,omitempty"`
	DataSchema string          `json:"data_schema,omitempty"`
	LastError  string          `json:"last_error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

type InstanceListResponse struct {
	Apps []*InstanceResponse `json:"apps"`
}

type DefinitionResponse struct {
	Name                   string         `json:"name"`
	DisplayName            string         `json:"display_name,omitempty"`
	Category               string         `json:"category,omitempty"`
	Scopes                 []models.Scope `json:"scopes"`
	Type                   models.AppType `json:"type"`
	AllowMultipleInstances bool           `json:"allow_multiple_instances"`
	IsHidden               bool           `json:"is_hidden,omitempty"`
}

type DefinitionListResponse struct {
	Definitions []*DefinitionResponse `json:"definitions"`
}

type LoginURLResponse struct {
	URL string `json:"url"`
}

type AppDataResponse struct {
	Data any `json:"data"`
}

func toInstanceResponse(inst *models.Instance) *InstanceResponse {
	return &InstanceResponse{
		ID:         inst.ID.String(),
		CompanyID:  inst.CompanyID.String(),
		AppName:    inst.AppName,
		Status:     inst.Status,
		Account:    inst.Account,
		DataSchema: inst.Data.Schema,
		LastError:  inst.LastError,
		CreatedAt:  inst.CreatedAt,
		UpdatedAt:  inst.UpdatedAt,
	}
}

func toInstanceListResponse(list []*models.Instance) *InstanceListResponse {
	out := &InstanceListResponse{Apps: make([]*InstanceResponse, 0, len(list))}
	for _, inst := range list {
		out.Apps = append(out.Apps, toInstanceResponse(inst))
	}
	return out
}

func toDefinitionListResponse(defs []catalog.Definition) *DefinitionListResponse {
	out := &DefinitionListResponse{Definitions: make([]*DefinitionResponse, 0, len(defs))}
	for _, d := range defs {
		out.Definitions = append(out.Definitions, &DefinitionResponse{
			Name:                   d.Name,
			DisplayName:            d.DisplayName,
			Category:               d.Category,
			Scopes:                 d.Scopes,
			Type:                   d.Type,
			AllowMultipleInstances: d.AllowMultipleInstances,
			IsHidden:               d.IsHidden,
		})
	}
	return out
}
