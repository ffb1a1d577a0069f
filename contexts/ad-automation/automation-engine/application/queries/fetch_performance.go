package queries

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	application "adpilot/contexts/ad-automation/automation-engine/application"
	"adpilot/contexts/ad-automation/automation-engine/domain/entities"
	domainerrors "adpilot/contexts/ad-automation/automation-engine/domain/errors"
	"adpilot/contexts/ad-automation/automation-engine/ports"
)

const (
	dateLayout = "2006-01-02"
	// lookbackMarginDays pads the query so late-arriving report days are covered.
	lookbackMarginDays = 2
)

type PerformanceRequest struct {
	ProfileID    string
	CampaignIDs  []string
	EntityTypes  []entities.EntityType
	LookbackDays int
	// Reference is "now" in the reporting timezone. The reference day itself
	// is excluded unless IncludeReference is set.
	Reference        time.Time
	IncludeReference bool
	// SingleDay narrows the query to exactly the reference day.
	SingleDay bool
}

type PerformanceSnapshot struct {
	Entities map[string]entities.Entity
	Range    entities.DateRange
	Rows     int
}

// FetchPerformance groups raw report rows into per-entity daily series.
type FetchPerformance struct {
	Store  ports.PerformanceStore
	Logger *slog.Logger
}

func (q FetchPerformance) Execute(ctx context.Context, req PerformanceRequest) (PerformanceSnapshot, error) {
	logger := application.ResolveLogger(q.Logger)
	scope := application.Unique(trimAll(req.CampaignIDs))
	if len(scope) == 0 {
		return PerformanceSnapshot{}, domainerrors.ErrEmptyScope
	}

	loc := req.Reference.Location()
	refDay := entities.Day(req.Reference)
	from, to := requestedRange(refDay, req)
	query := ports.PerformanceQuery{
		ProfileID:   req.ProfileID,
		CampaignIDs: scope,
		EntityTypes: req.EntityTypes,
		From:        from.Format(dateLayout),
		To:          to.Format(dateLayout),
	}
	rows, err := q.Store.QueryPerformance(ctx, query)
	if err != nil {
		logger.Error("performance query failed",
			"event", "automation_performance_query_failed",
			"module", "ad-automation/automation-engine",
			"layer", "application",
			"profile_id", req.ProfileID,
			"campaign_count", len(scope),
			"error", err.Error(),
		)
		return PerformanceSnapshot{}, fmt.Errorf("query performance: %w", err)
	}

	snapshot := PerformanceSnapshot{
		Entities: make(map[string]entities.Entity),
		Range:    entities.DateRange{From: query.From, To: query.To},
	}
	var minDay, maxDay string
	for _, row := range rows {
		day, err := time.ParseInLocation(dateLayout, row.Date, loc)
		if err != nil {
			logger.Warn("performance row has invalid date",
				"event", "automation_performance_row_invalid_date",
				"module", "ad-automation/automation-engine",
				"layer", "application",
				"entity_id", row.EntityID,
				"date", row.Date,
			)
			continue
		}
		entity := entityFromRow(row)
		key := entity.Key()
		if existing, ok := snapshot.Entities[key]; ok {
			entity = mergeAttributes(existing, entity)
		}
		entity.Daily = entity.Daily.Add(entities.DailyRecord{
			Date:        day,
			Impressions: row.Impressions,
			Clicks:      row.Clicks,
			Orders:      row.Orders,
			Spend:       row.Spend,
			Sales:       row.Sales,
		})
		snapshot.Entities[key] = entity
		snapshot.Rows++
		if minDay == "" || row.Date < minDay {
			minDay = row.Date
		}
		if row.Date > maxDay {
			maxDay = row.Date
		}
	}
	if minDay != "" {
		snapshot.Range = entities.DateRange{From: minDay, To: maxDay}
	}

	logger.Debug("performance snapshot built",
		"event", "automation_performance_snapshot_built",
		"module", "ad-automation/automation-engine",
		"layer", "application",
		"profile_id", req.ProfileID,
		"rows", snapshot.Rows,
		"entities", len(snapshot.Entities),
		"from", snapshot.Range.From,
		"to", snapshot.Range.To,
	)
	return snapshot, nil
}

func requestedRange(refDay time.Time, req PerformanceRequest) (time.Time, time.Time) {
	if req.SingleDay {
		return refDay, refDay
	}
	to := refDay.AddDate(0, 0, -1)
	if req.IncludeReference {
		to = refDay
	}
	lookback := req.LookbackDays
	if lookback < 1 {
		lookback = 1
	}
	return refDay.AddDate(0, 0, -(lookback + lookbackMarginDays)), to
}

func entityFromRow(row ports.PerformanceRow) entities.Entity {
	return entities.Entity{
		EntityID:     strings.TrimSpace(row.EntityID),
		EntityType:   row.EntityType,
		CampaignID:   strings.TrimSpace(row.CampaignID),
		CampaignName: row.CampaignName,
		AdGroupID:    strings.TrimSpace(row.AdGroupID),
		AdGroupName:  row.AdGroupName,
		EntityText:   strings.TrimSpace(row.EntityText),
		MatchType:    entities.MatchType(strings.ToUpper(strings.TrimSpace(row.MatchType))),
		SourceASIN:   strings.ToUpper(strings.TrimSpace(row.SourceASIN)),
	}
}

// mergeAttributes keeps the accumulated series and fills descriptive fields
// the earlier rows lacked.
func mergeAttributes(existing, incoming entities.Entity) entities.Entity {
	if existing.CampaignName == "" {
		existing.CampaignName = incoming.CampaignName
	}
	if existing.AdGroupName == "" {
		existing.AdGroupName = incoming.AdGroupName
	}
	if existing.SourceASIN == "" {
		existing.SourceASIN = incoming.SourceASIN
	}
	if existing.MatchType == "" {
		existing.MatchType = incoming.MatchType
	}
	if existing.EntityID == "" {
		existing.EntityID = incoming.EntityID
	}
	return existing
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, strings.TrimSpace(v))
	}
	return out
}

// SortedKeys returns snapshot keys in a stable order for deterministic runs.
func (s PerformanceSnapshot) SortedKeys() []string {
	keys := make([]string, 0, len(s.Entities))
	for k := range s.Entities {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
