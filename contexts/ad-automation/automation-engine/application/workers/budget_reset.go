package workers

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	application "adpilot/contexts/ad-automation/automation-engine/application"
	"adpilot/contexts/ad-automation/automation-engine/domain/entities"
	"adpilot/contexts/ad-automation/automation-engine/domain/services"
	"adpilot/contexts/ad-automation/automation-engine/ports"
)

type BudgetResetReport struct {
	Date     string
	Pending  int
	Reverted int
	Failed   int
	Profiles int
}

// DailyBudgetReset restores budgets raised by acceleration rules. It runs
// once per local date at or after ResetAt.
type DailyBudgetReset struct {
	Overrides ports.BudgetOverrideRepository
	Ads       ports.AdsAPI
	Clock     ports.Clock
	Location  *time.Location
	// ResetAt is "HH:MM" in Location.
	ResetAt string
	Logger  *slog.Logger

	mu      sync.Mutex
	lastRun string
}

func (j *DailyBudgetReset) now() time.Time {
	loc := j.Location
	if loc == nil {
		loc = time.UTC
	}
	if j.Clock != nil {
		return j.Clock.Now().In(loc)
	}
	return time.Now().In(loc)
}

// RunIfDue runs the reset when the local clock has passed ResetAt and no
// reset has fully succeeded yet today. A run with errors or unconfirmed
// campaigns is retried on the next call.
func (j *DailyBudgetReset) RunIfDue(ctx context.Context) (BudgetResetReport, bool, error) {
	now := j.now()
	today := now.Format("2006-01-02")
	boundary := services.BudgetResetBoundary(now, now.Location(), j.ResetAt)

	j.mu.Lock()
	defer j.mu.Unlock()
	if now.Before(boundary) || j.lastRun == today {
		return BudgetResetReport{}, false, nil
	}

	report, err := j.RunOnce(ctx)
	if err == nil && report.Failed == 0 {
		j.lastRun = today
	}
	return report, true, err
}

// RunOnce reverts every outstanding override dated today or earlier. Each
// profile gets one bulk call; only campaigns the platform confirmed are
// marked reverted.
func (j *DailyBudgetReset) RunOnce(ctx context.Context) (BudgetResetReport, error) {
	logger := application.ResolveLogger(j.Logger)
	now := j.now()
	today := services.LocalDate(now, now.Location())
	report := BudgetResetReport{Date: today}

	if j.Ads == nil || !j.Ads.Ready() {
		logger.Warn("budget reset skipped, ads api not configured",
			"event", "automation_budget_reset_unconfigured",
			"module", "ad-automation/automation-engine",
			"layer", "worker",
		)
		return report, nil
	}

	pending, err := j.Overrides.ListPendingOverrides(ctx, today)
	if err != nil {
		logger.Error("budget reset override listing failed",
			"event", "automation_budget_reset_list_failed",
			"module", "ad-automation/automation-engine",
			"layer", "worker",
			"error", err.Error(),
		)
		return report, fmt.Errorf("list pending overrides: %w", err)
	}
	report.Pending = len(pending)
	if len(pending) == 0 {
		return report, nil
	}

	byProfile := groupOverrides(pending)
	profiles := make([]string, 0, len(byProfile))
	for profileID := range byProfile {
		profiles = append(profiles, profileID)
	}
	sort.Strings(profiles)
	report.Profiles = len(profiles)

	for _, profileID := range profiles {
		campaigns := byProfile[profileID]
		updates := make([]ports.BudgetUpdate, 0, len(campaigns))
		for _, c := range campaigns {
			updates = append(updates, ports.BudgetUpdate{CampaignID: c.campaignID, DailyBudget: c.original})
		}
		results, callErr := j.Ads.UpdateCampaignBudgets(ctx, profileID, updates)
		if callErr != nil {
			logger.Error("budget reset call failed",
				"event", "automation_budget_reset_call_failed",
				"module", "ad-automation/automation-engine",
				"layer", "worker",
				"profile_id", profileID,
				"campaigns", len(campaigns),
				"error", callErr.Error(),
			)
			report.Failed += len(campaigns)
			continue
		}

		confirmed := make(map[int]bool, len(results))
		for _, res := range results {
			if res.Success {
				confirmed[res.Index] = true
			}
		}
		var reverted []string
		for i, c := range campaigns {
			if !confirmed[i] {
				report.Failed++
				logger.Warn("budget reset not confirmed",
					"event", "automation_budget_reset_unconfirmed",
					"module", "ad-automation/automation-engine",
					"layer", "worker",
					"profile_id", profileID,
					"campaign_id", c.campaignID,
				)
				continue
			}
			reverted = append(reverted, c.overrideIDs...)
			report.Reverted++
		}
		if len(reverted) == 0 {
			continue
		}
		if err := j.Overrides.MarkReverted(ctx, reverted, now.UTC()); err != nil {
			logger.Error("budget reset mark reverted failed",
				"event", "automation_budget_reset_mark_failed",
				"module", "ad-automation/automation-engine",
				"layer", "worker",
				"profile_id", profileID,
				"error", err.Error(),
			)
			return report, fmt.Errorf("mark overrides reverted: %w", err)
		}
	}

	logger.Info("budget reset completed",
		"event", "automation_budget_reset_completed",
		"module", "ad-automation/automation-engine",
		"layer", "worker",
		"date", report.Date,
		"pending", report.Pending,
		"reverted", report.Reverted,
		"failed", report.Failed,
	)
	return report, nil
}

type campaignRevert struct {
	campaignID  string
	original    float64
	earliest    string
	overrideIDs []string
}

// groupOverrides collapses overrides per campaign, restoring the budget from
// the earliest outstanding one.
func groupOverrides(pending []entities.DailyBudgetOverride) map[string][]campaignRevert {
	type key struct{ profile, campaign string }
	index := make(map[key]int)
	out := make(map[string][]campaignRevert)
	for _, o := range pending {
		k := key{o.ProfileID, o.CampaignID}
		if i, ok := index[k]; ok {
			c := &out[o.ProfileID][i]
			c.overrideIDs = append(c.overrideIDs, o.OverrideID)
			if o.OverrideDate < c.earliest {
				c.earliest = o.OverrideDate
				c.original = o.OriginalBudget
			}
			continue
		}
		index[k] = len(out[o.ProfileID])
		out[o.ProfileID] = append(out[o.ProfileID], campaignRevert{
			campaignID:  o.CampaignID,
			original:    o.OriginalBudget,
			earliest:    o.OverrideDate,
			overrideIDs: []string{o.OverrideID},
		})
	}
	return out
}
