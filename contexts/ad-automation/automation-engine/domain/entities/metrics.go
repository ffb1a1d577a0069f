package entities

import (
	"math"
	"sort"
	"time"
)

type Metric string

const (
	MetricImpressions Metric = "impressions"
	MetricClicks      Metric = "clicks"
	MetricSpend       Metric = "spend"
	MetricSales       Metric = "sales"
	MetricOrders      Metric = "orders"
	MetricACOS        Metric = "acos"
	MetricCPC         Metric = "cpc"
	MetricCTR         Metric = "ctr"
	MetricCVR         Metric = "cvr"
	MetricROAS        Metric = "roas"
)

func IsSupportedMetric(value Metric) bool {
	switch value {
	case MetricImpressions, MetricClicks, MetricSpend, MetricSales, MetricOrders,
		MetricACOS, MetricCPC, MetricCTR, MetricCVR, MetricROAS:
		return true
	default:
		return false
	}
}

// DailyRecord holds the raw counters of one entity for one calendar day.
type DailyRecord struct {
	Date        time.Time
	Impressions int64
	Clicks      int64
	Orders      int64
	Spend       float64
	Sales       float64
}

// PerformanceWindow is an entity's daily series ordered by date ascending.
type PerformanceWindow []DailyRecord

// WindowMetrics are summed counters plus ratios derived from them.
type WindowMetrics struct {
	Impressions int64   `json:"impressions"`
	Clicks      int64   `json:"clicks"`
	Orders      int64   `json:"orders"`
	Spend       float64 `json:"spend"`
	Sales       float64 `json:"sales"`
	ACOS        float64 `json:"acos"`
	CPC         float64 `json:"cpc"`
	CTR         float64 `json:"ctr"`
	CVR         float64 `json:"cvr"`
	ROAS        float64 `json:"roas"`
}

// Day truncates t to midnight in its own location.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Add appends or merges a record, keeping the series sorted by day.
func (w PerformanceWindow) Add(record DailyRecord) PerformanceWindow {
	record.Date = Day(record.Date)
	for i := range w {
		if w[i].Date.Equal(record.Date) {
			merged := append(PerformanceWindow(nil), w...)
			merged[i].Impressions += record.Impressions
			merged[i].Clicks += record.Clicks
			merged[i].Orders += record.Orders
			merged[i].Spend += record.Spend
			merged[i].Sales += record.Sales
			return merged
		}
	}
	out := append(append(PerformanceWindow(nil), w...), record)
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// Metrics sums days in [reference-windowDays, reference). The reference day
// itself is never included. A windowDays of zero selects the reference day only.
func (w PerformanceWindow) Metrics(windowDays int, reference time.Time) WindowMetrics {
	end := Day(reference)
	start := end.AddDate(0, 0, -windowDays)
	if windowDays <= 0 {
		start = end
		end = end.AddDate(0, 0, 1)
	}

	var out WindowMetrics
	for _, day := range w {
		d := Day(day.Date.In(end.Location()))
		if d.Before(start) || !d.Before(end) {
			continue
		}
		out.Impressions += day.Impressions
		out.Clicks += day.Clicks
		out.Orders += day.Orders
		out.Spend += day.Spend
		out.Sales += day.Sales
	}
	return out.derive()
}

func (m WindowMetrics) derive() WindowMetrics {
	switch {
	case m.Sales > 0:
		m.ACOS = m.Spend / m.Sales
	case m.Spend > 0:
		m.ACOS = math.Inf(1)
	default:
		m.ACOS = 0
	}
	m.CPC = safeDiv(m.Spend, float64(m.Clicks))
	m.CTR = safeDiv(float64(m.Clicks), float64(m.Impressions))
	m.CVR = safeDiv(float64(m.Orders), float64(m.Clicks))
	m.ROAS = safeDiv(m.Sales, m.Spend)
	return m
}

// Value returns the named metric. Unknown metrics read as NaN so no
// comparison against them ever passes.
func (m WindowMetrics) Value(metric Metric) float64 {
	switch metric {
	case MetricImpressions:
		return float64(m.Impressions)
	case MetricClicks:
		return float64(m.Clicks)
	case MetricSpend:
		return m.Spend
	case MetricSales:
		return m.Sales
	case MetricOrders:
		return float64(m.Orders)
	case MetricACOS:
		return m.ACOS
	case MetricCPC:
		return m.CPC
	case MetricCTR:
		return m.CTR
	case MetricCVR:
		return m.CVR
	case MetricROAS:
		return m.ROAS
	default:
		return math.NaN()
	}
}

// Snapshot flattens the metrics for audit details. Infinite values are
// reported as -1 because JSON cannot carry them.
func (m WindowMetrics) Snapshot() map[string]float64 {
	acos := m.ACOS
	if math.IsInf(acos, 0) {
		acos = -1
	}
	return map[string]float64{
		"impressions": float64(m.Impressions),
		"clicks":      float64(m.Clicks),
		"orders":      float64(m.Orders),
		"spend":       round4(m.Spend),
		"sales":       round4(m.Sales),
		"acos":        round4(acos),
		"cpc":         round4(m.CPC),
		"ctr":         round4(m.CTR),
		"cvr":         round4(m.CVR),
		"roas":        round4(m.ROAS),
	}
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

func round4(f float64) float64 { return math.Round(f*10000) / 10000 }
