package workers

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	application "adpilot/contexts/ad-automation/automation-engine/application"
	"adpilot/contexts/ad-automation/automation-engine/application/commands"
	"adpilot/contexts/ad-automation/automation-engine/domain/entities"
	domainerrors "adpilot/contexts/ad-automation/automation-engine/domain/errors"
	"adpilot/contexts/ad-automation/automation-engine/domain/services"
	"adpilot/contexts/ad-automation/automation-engine/ports"
)

// TickInProgressCode marks logs for manual runs that never got the scheduler.
const TickInProgressCode = "TICK_IN_PROGRESS"

type TickReport struct {
	Considered int
	Due        int
	Executed   int
	Failed     int
}

// Scheduler runs due rules one at a time. A tick that fires while another
// is still running is skipped, never queued. Manual runs share the same
// in-flight flag.
type Scheduler struct {
	Rules    ports.RuleRepository
	Runner   commands.RunRuleUseCase
	Clock    ports.Clock
	Location *time.Location
	Metrics  ports.Metrics
	Logger   *slog.Logger

	inFlight atomic.Bool
}

func (s *Scheduler) now() time.Time {
	if s.Clock != nil {
		return s.Clock.Now()
	}
	return time.Now()
}

func (s *Scheduler) acquire() bool {
	if s.inFlight.CompareAndSwap(false, true) {
		return true
	}
	if s.Metrics != nil {
		s.Metrics.TickSkipped()
	}
	return false
}

// Busy reports whether a tick or manual run is executing.
func (s *Scheduler) Busy() bool { return s.inFlight.Load() }

func (s *Scheduler) RunOnce(ctx context.Context) (TickReport, error) {
	logger := application.ResolveLogger(s.Logger)
	if !s.acquire() {
		logger.Warn("automation tick skipped, previous tick still running",
			"event", "automation_tick_skipped",
			"module", "ad-automation/automation-engine",
			"layer", "worker",
		)
		return TickReport{}, domainerrors.ErrTickInProgress
	}
	defer s.inFlight.Store(false)

	rules, err := s.Rules.ListActiveRules(ctx)
	if err != nil {
		logger.Error("automation tick rule listing failed",
			"event", "automation_tick_list_failed",
			"module", "ad-automation/automation-engine",
			"layer", "worker",
			"error", err.Error(),
		)
		return TickReport{}, fmt.Errorf("list active rules: %w", err)
	}

	now := s.now()
	report := TickReport{Considered: len(rules)}
	for _, rule := range rules {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !rule.IsActive || !services.IsRuleDue(rule.Schedule().Frequency, rule.LastRunAt, now, s.Location) {
			continue
		}
		report.Due++
		log, err := s.Runner.Execute(ctx, commands.RunRuleCommand{Rule: rule, Trigger: "schedule"})
		report.Executed++
		if err != nil || log.Status == entities.RunStatusFailure {
			report.Failed++
		}
	}

	logger.Info("automation tick completed",
		"event", "automation_tick_completed",
		"module", "ad-automation/automation-engine",
		"layer", "worker",
		"considered", report.Considered,
		"due", report.Due,
		"executed", report.Executed,
		"failed", report.Failed,
	)
	return report, nil
}

// RunRule executes one rule immediately, regardless of its schedule.
func (s *Scheduler) RunRule(ctx context.Context, ruleID string) (entities.AutomationLog, error) {
	logger := application.ResolveLogger(s.Logger)
	if !s.acquire() {
		logger.Warn("manual rule run rejected, tick in progress",
			"event", "automation_manual_run_busy",
			"module", "ad-automation/automation-engine",
			"layer", "worker",
			"rule_id", ruleID,
		)
		return entities.AutomationLog{}, domainerrors.ErrTickInProgress
	}
	defer s.inFlight.Store(false)

	rule, err := s.Rules.GetRule(ctx, ruleID)
	if err != nil {
		return entities.AutomationLog{}, err
	}
	return s.Runner.Execute(ctx, commands.RunRuleCommand{Rule: rule, Trigger: "manual"})
}

// RecordBusy logs a manual run that gave up waiting for the in-flight tick.
func (s *Scheduler) RecordBusy(ctx context.Context, ruleID string) (entities.AutomationLog, error) {
	return s.Runner.RecordNotRun(ctx, ruleID, TickInProgressCode, "another tick held the scheduler")
}
