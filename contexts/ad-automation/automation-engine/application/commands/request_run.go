package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	application "adpilot/contexts/ad-automation/automation-engine/application"
	"adpilot/contexts/ad-automation/automation-engine/domain/entities"
	domainerrors "adpilot/contexts/ad-automation/automation-engine/domain/errors"
	"adpilot/contexts/ad-automation/automation-engine/ports"
)

const RunRequestedTopic = "automation.run_requested"

type RunRequestedPayload struct {
	RuleID      string `json:"rule_id"`
	RequestedBy string `json:"requested_by,omitempty"`
}

type RequestRunCommand struct {
	RuleID      string
	RequestedBy string
}

type RequestRunResult struct {
	EventID     string
	RuleID      string
	RequestedAt time.Time
}

// RequestRunUseCase queues a manual run. The rule must exist; the run itself
// happens asynchronously through the run_requested consumer.
type RequestRunUseCase struct {
	Rules     ports.RuleRepository
	Publisher ports.EventPublisher
	Clock     ports.Clock
	IDGen     ports.IDGenerator
	Logger    *slog.Logger
}

func (uc RequestRunUseCase) Execute(ctx context.Context, cmd RequestRunCommand) (RequestRunResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	ruleID := strings.TrimSpace(cmd.RuleID)
	if ruleID == "" {
		return RequestRunResult{}, domainerrors.ErrRuleNotFound
	}
	rule, err := uc.Rules.GetRule(ctx, ruleID)
	if err != nil {
		return RequestRunResult{}, err
	}
	if !rule.IsActive || !entities.IsSupportedRuleType(rule.Type) {
		return RequestRunResult{}, fmt.Errorf("rule %s is not runnable: %w", ruleID, domainerrors.ErrRuleNotFound)
	}

	eventID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return RequestRunResult{}, err
	}
	now := time.Now().UTC()
	if uc.Clock != nil {
		now = uc.Clock.Now().UTC()
	}
	data, err := json.Marshal(RunRequestedPayload{RuleID: ruleID, RequestedBy: strings.TrimSpace(cmd.RequestedBy)})
	if err != nil {
		return RequestRunResult{}, err
	}
	if err := uc.Publisher.Publish(ctx, RunRequestedTopic, ports.EventEnvelope{
		EventID:          eventID,
		EventType:        RunRequestedTopic,
		OccurredAt:       now,
		SourceService:    sourceService,
		SchemaVersion:    1,
		PartitionKeyPath: "data.rule_id",
		PartitionKey:     ruleID,
		Data:             data,
	}); err != nil {
		logger.Error("automation run request publish failed",
			"event", "automation_run_request_publish_failed",
			"module", "ad-automation/automation-engine",
			"layer", "application",
			"rule_id", ruleID,
			"error", err.Error(),
		)
		return RequestRunResult{}, err
	}

	logger.Info("automation run requested",
		"event", "automation_run_requested",
		"module", "ad-automation/automation-engine",
		"layer", "application",
		"rule_id", ruleID,
		"event_id", eventID,
		"requested_by", cmd.RequestedBy,
	)
	return RequestRunResult{EventID: eventID, RuleID: ruleID, RequestedAt: now}, nil
}
