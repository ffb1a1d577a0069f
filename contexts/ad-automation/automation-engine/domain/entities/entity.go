package entities

import (
	"strings"
	"time"
)

type EntityType string

const (
	EntityKeyword    EntityType = "keyword"
	EntityTarget     EntityType = "target"
	EntitySearchTerm EntityType = "searchTerm"
	EntityCampaign   EntityType = "campaign"
	EntitySKU        EntityType = "sku"
)

// Entity is rebuilt from report rows on every rule run and never persisted.
type Entity struct {
	EntityID     string
	EntityType   EntityType
	CampaignID   string
	CampaignName string
	AdGroupID    string
	AdGroupName  string
	EntityText   string
	MatchType    MatchType
	SourceASIN   string
	Daily        PerformanceWindow
	// CurrentBid is filled lazily by evaluators that need it.
	CurrentBid *float64
}

// Key identifies an entity inside one performance snapshot. Search terms are
// keyed per source ad group because negation happens there.
func (e Entity) Key() string {
	if e.EntityType == EntitySearchTerm {
		return strings.Join([]string{e.CampaignID, e.AdGroupID, NormalizeTerm(e.EntityText)}, "|")
	}
	return string(e.EntityType) + ":" + e.EntityID
}

// ThrottleKey is the cooldown identity: the platform id for keywords and
// targets, term text plus asin for search terms.
func (e Entity) ThrottleKey() string {
	if e.EntityType == EntitySearchTerm {
		return NormalizeTerm(e.EntityText) + "|" + strings.ToUpper(strings.TrimSpace(e.SourceASIN))
	}
	return e.EntityID
}

func NormalizeTerm(term string) string {
	return strings.Join(strings.Fields(strings.ToLower(term)), " ")
}

type ThrottleKind string

const (
	ThrottleAction         ThrottleKind = "action"
	ThrottleHarvest        ThrottleKind = "harvest"
	ThrottleSourceNegation ThrottleKind = "source_negation"
	ThrottleBudgetOverride ThrottleKind = "budget"
	ThrottleNegation       ThrottleKind = "negation"
	ThrottlePrice          ThrottleKind = "price"
)

// ThrottleEntry records when a rule last acted on an entity.
type ThrottleEntry struct {
	RuleID    string
	Kind      ThrottleKind
	EntityKey string
	ActedAt   time.Time
}

// ThrottleSet answers cooldown questions for one rule evaluation.
type ThrottleSet struct {
	now      time.Time
	cooldown time.Duration
	last     map[ThrottleKind]map[string]time.Time
}

func NewThrottleSet(entries []ThrottleEntry, now time.Time, cooldown time.Duration) ThrottleSet {
	set := ThrottleSet{
		now:      now,
		cooldown: cooldown,
		last:     make(map[ThrottleKind]map[string]time.Time),
	}
	for _, entry := range entries {
		byKey, ok := set.last[entry.Kind]
		if !ok {
			byKey = make(map[string]time.Time)
			set.last[entry.Kind] = byKey
		}
		if prev, ok := byKey[entry.EntityKey]; !ok || entry.ActedAt.After(prev) {
			byKey[entry.EntityKey] = entry.ActedAt
		}
	}
	return set
}

// CoolingDown is true while now < lastActed + cooldown.
func (s ThrottleSet) CoolingDown(kind ThrottleKind, key string) bool {
	if s.cooldown <= 0 {
		return false
	}
	at, ok := s.last[kind][key]
	if !ok {
		return false
	}
	return s.now.Before(at.Add(s.cooldown))
}
