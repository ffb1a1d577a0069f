package httpadapter

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"adpilot/contexts/ad-automation/automation-engine/application/commands"
	"adpilot/contexts/ad-automation/automation-engine/application/queries"
	"adpilot/contexts/ad-automation/automation-engine/application/workers"
	"adpilot/contexts/ad-automation/automation-engine/domain/entities"
	httptransport "adpilot/contexts/ad-automation/automation-engine/transport/http"
)

type Handler struct {
	RequestRun commands.RequestRunUseCase
	Scheduler  *workers.Scheduler
	Logs       queries.ListLogs
	Logger     *slog.Logger
}

func (h Handler) RequestRunHandler(
	ctx context.Context,
	req httptransport.RequestRunRequest,
) (httptransport.RequestRunResponse, error) {
	result, err := h.RequestRun.Execute(ctx, commands.RequestRunCommand{
		RuleID:      req.RuleID,
		RequestedBy: req.RequestedBy,
	})
	if err != nil {
		return httptransport.RequestRunResponse{}, err
	}
	resp := httptransport.RequestRunResponse{Status: "accepted"}
	resp.Data.RuleID = result.RuleID
	resp.Data.EventID = result.EventID
	resp.Data.RequestedAt = result.RequestedAt.UTC().Format(time.RFC3339)
	return resp, nil
}

func (h Handler) RunTickHandler(ctx context.Context) (httptransport.TickResponse, error) {
	report, err := h.Scheduler.RunOnce(ctx)
	if err != nil {
		return httptransport.TickResponse{}, err
	}
	resp := httptransport.TickResponse{Status: "success"}
	resp.Data.Considered = report.Considered
	resp.Data.Due = report.Due
	resp.Data.Executed = report.Executed
	resp.Data.Failed = report.Failed
	return resp, nil
}

func (h Handler) ListLogsHandler(
	ctx context.Context,
	req httptransport.ListLogsRequest,
) (httptransport.ListLogsResponse, error) {
	items, err := h.Logs.Execute(ctx, req.RuleID, req.Limit)
	if err != nil {
		return httptransport.ListLogsResponse{}, err
	}
	resp := httptransport.ListLogsResponse{
		Status: "success",
		Data:   make([]httptransport.AutomationLogDTO, 0, len(items)),
	}
	for _, item := range items {
		resp.Data = append(resp.Data, toDTO(item))
	}
	return resp, nil
}

func toDTO(log entities.AutomationLog) httptransport.AutomationLogDTO {
	details := map[string]any{}
	if raw, err := json.Marshal(log.Details); err == nil {
		_ = json.Unmarshal(raw, &details)
	}
	return httptransport.AutomationLogDTO{
		LogID:   log.LogID,
		RuleID:  log.RuleID,
		Status:  string(log.Status),
		Summary: log.Summary,
		Details: details,
		RunAt:   log.RunAt.UTC().Format(time.RFC3339),
	}
}
