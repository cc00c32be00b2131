package api

import (
	"fmt"
	"time"

	"fieldops/internal/dispatch"
	"fieldops/internal/model"
)

type scheduleRequest struct {
	Kind         string `json:"kind"`
	BuildingID   string `json:"buildingId"`
	TemplateID   string `json:"templateId"`
	TechnicianID string `json:"technicianId"`
	ScheduledAt  string `json:"scheduledAt"`
}

func (r *scheduleRequest) toInput() dispatch.ScheduleInput {
	at, _ := time.Parse(time.RFC3339, r.ScheduledAt)
	return dispatch.ScheduleInput{
		Kind:         r.Kind,
		BuildingID:   r.BuildingID,
		TemplateID:   r.TemplateID,
		TechnicianID: r.TechnicianID,
		ScheduledAt:  at,
	}
}

func validateScheduleRequest(req *scheduleRequest) error {
	if req.Kind != model.KindPreventive && req.Kind != model.KindCorrective {
		return fmt.Errorf("invalid kind: %s (emergencies go through /v1/emergencies)", req.Kind)
	}
	if req.BuildingID == "" || req.TemplateID == "" || req.TechnicianID == "" {
		return fmt.Errorf("buildingId, templateId and technicianId are required")
	}
	if _, err := time.Parse(time.RFC3339, req.ScheduledAt); err != nil {
		return fmt.Errorf("scheduledAt must be RFC3339: %v", err)
	}
	return nil
}

type planRequest struct {
	TechnicianID string          `json:"technicianId"`
	Date         string          `json:"date,omitempty"`
	Start        *model.GeoPoint `json:"start,omitempty"`
	Improve      bool            `json:"improve,omitempty"`
	Iterations   int             `json:"iterations,omitempty"`
}

func validatePlanRequest(req *planRequest) error {
	if req.TechnicianID == "" {
		return fmt.Errorf("technicianId is required")
	}
	if req.Iterations < 0 {
		return fmt.Errorf("iterations must be >= 0")
	}
	return nil
}
