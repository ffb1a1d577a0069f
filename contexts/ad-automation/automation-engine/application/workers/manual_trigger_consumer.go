package workers

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	application "adpilot/contexts/ad-automation/automation-engine/application"
	"adpilot/contexts/ad-automation/automation-engine/application/commands"
	"adpilot/contexts/ad-automation/automation-engine/domain/entities"
	domainerrors "adpilot/contexts/ad-automation/automation-engine/domain/errors"
	"adpilot/contexts/ad-automation/automation-engine/ports"
)

const defaultManualTriggerGroupName = "automation-engine-run-requested-cg"

// DefaultBusyRetry waits roughly five minutes for a running tick to finish.
var DefaultBusyRetry = application.RetryPolicy{Attempts: 30, Base: time.Second, Max: 10 * time.Second}

// ManualTriggerConsumer turns "run now" requests into scheduler runs. A
// request that arrives during a tick waits for it; if the tick outlasts
// BusyRetry the request ends as a NO_ACTION log.
type ManualTriggerConsumer struct {
	Subscriber    ports.EventSubscriber
	Scheduler     *Scheduler
	ConsumerGroup string
	BusyRetry     application.RetryPolicy
	Sleeper       ports.Sleeper
	Logger        *slog.Logger
}

func (c ManualTriggerConsumer) Start(ctx context.Context) error {
	logger := application.ResolveLogger(c.Logger)
	group := c.ConsumerGroup
	if group == "" {
		group = defaultManualTriggerGroupName
	}
	if err := c.Subscriber.Subscribe(ctx, commands.RunRequestedTopic, group, c.handle); err != nil {
		logger.Error("manual trigger consumer subscribe failed",
			"event", "automation_manual_trigger_subscribe_failed",
			"module", "ad-automation/automation-engine",
			"layer", "worker",
			"topic", commands.RunRequestedTopic,
			"consumer_group", group,
			"error", err.Error(),
		)
		return err
	}
	logger.Info("manual trigger consumer subscribed",
		"event", "automation_manual_trigger_subscribed",
		"module", "ad-automation/automation-engine",
		"layer", "worker",
		"topic", commands.RunRequestedTopic,
		"consumer_group", group,
	)
	return nil
}

func (c ManualTriggerConsumer) handle(ctx context.Context, event ports.EventEnvelope) error {
	logger := application.ResolveLogger(c.Logger)
	var payload commands.RunRequestedPayload
	if err := event.DecodeData(&payload); err != nil {
		logger.Error("manual trigger decode failed",
			"event", "automation_manual_trigger_decode_failed",
			"module", "ad-automation/automation-engine",
			"layer", "worker",
			"event_id", event.EventID,
			"error", err.Error(),
		)
		return err
	}
	ruleID := strings.TrimSpace(payload.RuleID)
	if ruleID == "" {
		return domainerrors.ErrRuleNotFound
	}

	log, err := c.runWhenIdle(ctx, ruleID)
	if err != nil {
		logger.Error("manual rule run failed",
			"event", "automation_manual_run_failed",
			"module", "ad-automation/automation-engine",
			"layer", "worker",
			"event_id", event.EventID,
			"rule_id", ruleID,
			"requested_by", payload.RequestedBy,
			"error", err.Error(),
		)
		return err
	}
	logger.Info("manual rule run completed",
		"event", "automation_manual_run_completed",
		"module", "ad-automation/automation-engine",
		"layer", "worker",
		"event_id", event.EventID,
		"rule_id", ruleID,
		"log_id", log.LogID,
		"status", string(log.Status),
	)
	return nil
}

// runWhenIdle retries while a tick holds the scheduler. Giving up, including
// on shutdown, still leaves a log behind.
func (c ManualTriggerConsumer) runWhenIdle(ctx context.Context, ruleID string) (entities.AutomationLog, error) {
	policy := c.BusyRetry
	if policy.Attempts <= 0 {
		policy = DefaultBusyRetry
	}
	for attempt := 1; ; attempt++ {
		log, err := c.Scheduler.RunRule(ctx, ruleID)
		if !errors.Is(err, domainerrors.ErrTickInProgress) {
			return log, err
		}
		if attempt >= policy.Attempts {
			return c.Scheduler.RecordBusy(ctx, ruleID)
		}
		if err := application.Sleep(ctx, c.Sleeper, policy.Backoff(attempt)); err != nil {
			return c.Scheduler.RecordBusy(ctx, ruleID)
		}
	}
}
