package queries

import (
	"context"
	"strings"

	"adpilot/contexts/ad-automation/automation-engine/domain/entities"
	domainerrors "adpilot/contexts/ad-automation/automation-engine/domain/errors"
	"adpilot/contexts/ad-automation/automation-engine/ports"
)

const (
	defaultLogLimit = 20
	maxLogLimit     = 200
)

// ListLogs returns a rule's most recent audit logs, newest first.
type ListLogs struct {
	Rules ports.RuleRepository
	Logs  ports.LogRepository
}

func (q ListLogs) Execute(ctx context.Context, ruleID string, limit int) ([]entities.AutomationLog, error) {
	ruleID = strings.TrimSpace(ruleID)
	if ruleID == "" {
		return nil, domainerrors.ErrRuleNotFound
	}
	if q.Rules != nil {
		if _, err := q.Rules.GetRule(ctx, ruleID); err != nil {
			return nil, err
		}
	}
	switch {
	case limit <= 0:
		limit = defaultLogLimit
	case limit > maxLogLimit:
		limit = maxLogLimit
	}
	return q.Logs.ListLogs(ctx, ruleID, limit)
}
