package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"adpilot/contexts/ad-automation/automation-engine/domain/entities"
	domainerrors "adpilot/contexts/ad-automation/automation-engine/domain/errors"
	"adpilot/contexts/ad-automation/automation-engine/ports"

	"github.com/google/uuid"
)

type publishedEvent struct {
	Topic string
	Event ports.EventEnvelope
}

type throttleKey struct {
	ruleID string
	kind   entities.ThrottleKind
	key    string
}

// Store is an in-process implementation of every repository port plus an
// event sink, used by tests and the in-memory module.
type Store struct {
	mu sync.RWMutex

	rules       map[string]entities.Rule
	logs        []entities.AutomationLog
	performance []ports.PerformanceRow
	throttle    map[throttleKey]time.Time
	overrides   map[string]entities.DailyBudgetOverride
	published   []publishedEvent

	now func() time.Time
}

func NewStore(seed []entities.Rule) *Store {
	rules := make(map[string]entities.Rule, len(seed))
	for _, rule := range seed {
		rules[rule.RuleID] = rule
	}
	return &Store{
		rules:     rules,
		throttle:  make(map[throttleKey]time.Time),
		overrides: make(map[string]entities.DailyBudgetOverride),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetNow pins the store clock.
func (s *Store) SetNow(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = func() time.Time { return now }
}

func (s *Store) Now() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.now()
}

func (s *Store) NewID(_ context.Context) (string, error) {
	return uuid.NewString(), nil
}

func (s *Store) PutRule(rule entities.Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[rule.RuleID] = rule
}

func (s *Store) AddPerformance(rows ...ports.PerformanceRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.performance = append(s.performance, rows...)
}

func (s *Store) ListActiveRules(_ context.Context) ([]entities.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]entities.Rule, 0, len(s.rules))
	for _, rule := range s.rules {
		if rule.IsActive {
			items = append(items, rule)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].RuleID < items[j].RuleID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items, nil
}

func (s *Store) GetRule(_ context.Context, ruleID string) (entities.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rule, ok := s.rules[strings.TrimSpace(ruleID)]
	if !ok {
		return entities.Rule{}, domainerrors.ErrRuleNotFound
	}
	return rule, nil
}

func (s *Store) MarkRuleRun(_ context.Context, ruleID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rule, ok := s.rules[strings.TrimSpace(ruleID)]
	if !ok {
		return domainerrors.ErrRuleNotFound
	}
	ranAt := at.UTC()
	rule.LastRunAt = &ranAt
	rule.UpdatedAt = ranAt
	s.rules[rule.RuleID] = rule
	return nil
}

func (s *Store) AppendLog(_ context.Context, log entities.AutomationLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, log)
	return nil
}

func (s *Store) ListLogs(_ context.Context, ruleID string, limit int) ([]entities.AutomationLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]entities.AutomationLog, 0)
	for i := len(s.logs) - 1; i >= 0; i-- {
		if ruleID != "" && s.logs[i].RuleID != ruleID {
			continue
		}
		items = append(items, s.logs[i])
		if limit > 0 && len(items) == limit {
			break
		}
	}
	return items, nil
}

func (s *Store) QueryPerformance(_ context.Context, query ports.PerformanceQuery) ([]ports.PerformanceRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	campaigns := toSet(query.CampaignIDs)
	types := make(map[entities.EntityType]struct{}, len(query.EntityTypes))
	for _, t := range query.EntityTypes {
		types[t] = struct{}{}
	}
	items := make([]ports.PerformanceRow, 0)
	for _, row := range s.performance {
		if _, ok := campaigns[row.CampaignID]; !ok {
			continue
		}
		if len(types) > 0 {
			if _, ok := types[row.EntityType]; !ok {
				continue
			}
		}
		if row.Date < query.From || row.Date > query.To {
			continue
		}
		items = append(items, row)
	}
	return items, nil
}

func (s *Store) ListThrottle(_ context.Context, ruleID string, since time.Time) ([]entities.ThrottleEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]entities.ThrottleEntry, 0)
	for k, at := range s.throttle {
		if k.ruleID != ruleID || at.Before(since) {
			continue
		}
		items = append(items, entities.ThrottleEntry{RuleID: k.ruleID, Kind: k.kind, EntityKey: k.key, ActedAt: at})
	}
	return items, nil
}

func (s *Store) RecordThrottle(_ context.Context, entries []entities.ThrottleEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		s.throttle[throttleKey{ruleID: e.RuleID, kind: e.Kind, key: e.EntityKey}] = e.ActedAt
	}
	return nil
}

func (s *Store) CreateOverride(_ context.Context, override entities.DailyBudgetOverride) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.overrides {
		if existing.CampaignID == override.CampaignID && existing.OverrideDate == override.OverrideDate {
			return domainerrors.ErrOverrideExists
		}
	}
	if override.OverrideID == "" {
		override.OverrideID = uuid.NewString()
	}
	s.overrides[override.OverrideID] = override
	return nil
}

func (s *Store) HasOverride(_ context.Context, campaignID string, date string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, existing := range s.overrides {
		if existing.CampaignID == campaignID && existing.OverrideDate == date {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) ListPendingOverrides(_ context.Context, onOrBefore string) ([]entities.DailyBudgetOverride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]entities.DailyBudgetOverride, 0)
	for _, o := range s.overrides {
		if o.RevertedAt == nil && o.OverrideDate <= onOrBefore {
			items = append(items, o)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].OverrideDate == items[j].OverrideDate {
			return items[i].CampaignID < items[j].CampaignID
		}
		return items[i].OverrideDate < items[j].OverrideDate
	})
	return items, nil
}

func (s *Store) MarkReverted(_ context.Context, overrideIDs []string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range overrideIDs {
		o, ok := s.overrides[id]
		if !ok || o.RevertedAt != nil {
			continue
		}
		reverted := at.UTC()
		o.RevertedAt = &reverted
		s.overrides[id] = o
	}
	return nil
}

// Overrides returns a snapshot of every override, reverted or not.
func (s *Store) Overrides() []entities.DailyBudgetOverride {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]entities.DailyBudgetOverride, 0, len(s.overrides))
	for _, o := range s.overrides {
		items = append(items, o)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CampaignID < items[j].CampaignID })
	return items
}

func toSet(values []string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[strings.TrimSpace(v)] = struct{}{}
	}
	return out
}

func (s *Store) Publish(_ context.Context, topic string, event ports.EventEnvelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published = append(s.published, publishedEvent{Topic: topic, Event: event})
	return nil
}

// Published returns the events recorded for topic in publish order.
func (s *Store) Published(topic string) []ports.EventEnvelope {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ports.EventEnvelope
	for _, p := range s.published {
		if p.Topic == topic {
			out = append(out, p.Event)
		}
	}
	return out
}

var (
	_ ports.RuleRepository           = (*Store)(nil)
	_ ports.LogRepository            = (*Store)(nil)
	_ ports.PerformanceStore         = (*Store)(nil)
	_ ports.ThrottleStore            = (*Store)(nil)
	_ ports.BudgetOverrideRepository = (*Store)(nil)
	_ ports.EventPublisher           = (*Store)(nil)
	_ ports.Clock                    = (*Store)(nil)
	_ ports.IDGenerator              = (*Store)(nil)
)
