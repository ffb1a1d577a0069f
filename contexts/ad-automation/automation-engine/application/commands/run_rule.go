package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	application "adpilot/contexts/ad-automation/automation-engine/application"
	"adpilot/contexts/ad-automation/automation-engine/application/evaluators"
	"adpilot/contexts/ad-automation/automation-engine/domain/entities"
	domainerrors "adpilot/contexts/ad-automation/automation-engine/domain/errors"
	"adpilot/contexts/ad-automation/automation-engine/ports"
)

const (
	RuleExecutedTopic = "automation.rule_executed"
	sourceService     = "automation-engine"
)

type RuleEvaluator interface {
	Evaluate(ctx context.Context, rule entities.Rule) (evaluators.Result, error)
}

type RunRuleCommand struct {
	Rule    entities.Rule
	Trigger string
}

// RunRuleUseCase executes one rule and always leaves an audit log behind.
// last_run_at advances whatever the outcome so a failing rule cannot retry
// faster than its frequency.
type RunRuleUseCase struct {
	Rules     ports.RuleRepository
	Logs      ports.LogRepository
	Evaluator RuleEvaluator
	Publisher ports.EventPublisher
	Metrics   ports.Metrics
	Clock     ports.Clock
	IDGen     ports.IDGenerator
	Logger    *slog.Logger
}

type ruleExecutedPayload struct {
	RuleID    string   `json:"rule_id"`
	RuleType  string   `json:"rule_type"`
	LogID     string   `json:"log_id"`
	Status    string   `json:"status"`
	Summary   string   `json:"summary"`
	Trigger   string   `json:"trigger"`
	Campaigns []string `json:"campaign_ids,omitempty"`
}

func (uc RunRuleUseCase) now() time.Time {
	if uc.Clock != nil {
		return uc.Clock.Now().UTC()
	}
	return time.Now().UTC()
}

func (uc RunRuleUseCase) Execute(ctx context.Context, cmd RunRuleCommand) (entities.AutomationLog, error) {
	logger := application.ResolveLogger(uc.Logger)
	rule := cmd.Rule
	startedAt := uc.now()
	logger.Info("automation rule run started",
		"event", "automation_rule_run_started",
		"module", "ad-automation/automation-engine",
		"layer", "application",
		"rule_id", rule.RuleID,
		"rule_type", string(rule.Type),
		"profile_id", rule.ProfileID,
		"trigger", cmd.Trigger,
	)

	defer func() {
		// Advance even when evaluation failed or the context was canceled.
		markCtx := context.WithoutCancel(ctx)
		if err := uc.Rules.MarkRuleRun(markCtx, rule.RuleID, startedAt); err != nil {
			logger.Error("automation rule last_run_at update failed",
				"event", "automation_rule_mark_run_failed",
				"module", "ad-automation/automation-engine",
				"layer", "application",
				"rule_id", rule.RuleID,
				"error", err.Error(),
			)
		}
	}()

	result, evalErr := uc.evaluate(ctx, rule)
	log := entities.AutomationLog{
		RuleID:  rule.RuleID,
		Status:  result.Status,
		Summary: result.Summary,
		Details: result.Details,
		RunAt:   startedAt,
	}
	if evalErr != nil {
		log.Status, log.Summary = classifyFailure(evalErr)
		log.Details.AddError("rule", errorCode(evalErr), evalErr.Error())
	}
	if uc.IDGen != nil {
		id, err := uc.IDGen.NewID(ctx)
		if err != nil {
			return entities.AutomationLog{}, fmt.Errorf("generate log id: %w", err)
		}
		log.LogID = id
	}

	if err := uc.Logs.AppendLog(context.WithoutCancel(ctx), log); err != nil {
		logger.Error("automation log append failed",
			"event", "automation_log_append_failed",
			"module", "ad-automation/automation-engine",
			"layer", "application",
			"rule_id", rule.RuleID,
			"error", err.Error(),
		)
		return log, fmt.Errorf("append automation log: %w", err)
	}

	elapsed := uc.now().Sub(startedAt)
	if uc.Metrics != nil {
		uc.Metrics.ObserveRuleRun(string(rule.Type), string(log.Status), elapsed)
	}
	uc.publish(ctx, rule, log, cmd.Trigger)

	level := slog.LevelInfo
	if log.Status == entities.RunStatusFailure {
		level = slog.LevelWarn
	}
	logger.Log(ctx, level, "automation rule run finished",
		"event", "automation_rule_run_finished",
		"module", "ad-automation/automation-engine",
		"layer", "application",
		"rule_id", rule.RuleID,
		"rule_type", string(rule.Type),
		"status", string(log.Status),
		"summary", log.Summary,
		"elapsed_ms", elapsed.Milliseconds(),
	)
	return log, nil
}

// RecordNotRun leaves a NO_ACTION log for a requested run that never
// started. last_run_at is left alone.
func (uc RunRuleUseCase) RecordNotRun(ctx context.Context, ruleID, code, reason string) (entities.AutomationLog, error) {
	ctx = context.WithoutCancel(ctx)
	log := entities.AutomationLog{
		RuleID:  ruleID,
		Status:  entities.RunStatusNoAction,
		Summary: "run not started: " + reason,
		RunAt:   uc.now(),
	}
	log.Details.AddError("rule", code, reason)
	if uc.IDGen != nil {
		id, err := uc.IDGen.NewID(ctx)
		if err != nil {
			return entities.AutomationLog{}, fmt.Errorf("generate log id: %w", err)
		}
		log.LogID = id
	}
	if err := uc.Logs.AppendLog(ctx, log); err != nil {
		return log, fmt.Errorf("append automation log: %w", err)
	}
	application.ResolveLogger(uc.Logger).Warn("automation rule run not started",
		"event", "automation_rule_run_not_started",
		"module", "ad-automation/automation-engine",
		"layer", "application",
		"rule_id", ruleID,
		"code", code,
		"reason", reason,
	)
	return log, nil
}

// evaluate converts panics inside an evaluator into a rule-level failure so
// the tick keeps going.
func (uc RunRuleUseCase) evaluate(ctx context.Context, rule entities.Rule) (result evaluators.Result, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("evaluator panic: %v", recovered)
		}
	}()
	if uc.Evaluator == nil {
		return evaluators.Result{}, fmt.Errorf("%w: no evaluator configured", domainerrors.ErrUnsupportedRule)
	}
	return uc.Evaluator.Evaluate(ctx, rule)
}

func classifyFailure(err error) (entities.RunStatus, string) {
	switch {
	case errors.Is(err, domainerrors.ErrEmptyScope):
		return entities.RunStatusNoAction, "rule has no campaign scope"
	case errors.Is(err, domainerrors.ErrMissingCredentials):
		return entities.RunStatusNoAction, "credentials not configured: " + err.Error()
	default:
		return entities.RunStatusFailure, "rule run failed: " + err.Error()
	}
}

func errorCode(err error) string {
	var apiErr *domainerrors.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	switch {
	case errors.Is(err, domainerrors.ErrEmptyScope):
		return "EMPTY_SCOPE"
	case errors.Is(err, domainerrors.ErrMissingCredentials):
		return "MISSING_CREDENTIALS"
	case errors.Is(err, domainerrors.ErrInvalidRuleConfig):
		return "INVALID_CONFIG"
	}
	return ""
}

func (uc RunRuleUseCase) publish(ctx context.Context, rule entities.Rule, log entities.AutomationLog, trigger string) {
	if uc.Publisher == nil {
		return
	}
	logger := application.ResolveLogger(uc.Logger)
	campaigns := make([]string, 0, len(log.Details.Campaigns))
	for id := range log.Details.Campaigns {
		campaigns = append(campaigns, id)
	}
	data, err := json.Marshal(ruleExecutedPayload{
		RuleID:    rule.RuleID,
		RuleType:  string(rule.Type),
		LogID:     log.LogID,
		Status:    string(log.Status),
		Summary:   log.Summary,
		Trigger:   strings.TrimSpace(trigger),
		Campaigns: campaigns,
	})
	if err != nil {
		return
	}
	eventID := log.LogID
	if eventID == "" {
		eventID = rule.RuleID + ":" + log.RunAt.Format(time.RFC3339Nano)
	}
	event := ports.EventEnvelope{
		EventID:          eventID,
		EventType:        RuleExecutedTopic,
		OccurredAt:       log.RunAt,
		SourceService:    sourceService,
		SchemaVersion:    1,
		PartitionKeyPath: "data.rule_id",
		PartitionKey:     rule.RuleID,
		Data:             data,
	}
	if err := uc.Publisher.Publish(ctx, RuleExecutedTopic, event); err != nil {
		logger.Warn("automation rule executed event publish failed",
			"event", "automation_rule_executed_publish_failed",
			"module", "ad-automation/automation-engine",
			"layer", "application",
			"rule_id", rule.RuleID,
			"error", err.Error(),
		)
	}
}
