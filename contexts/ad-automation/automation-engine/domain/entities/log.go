package entities

import "time"

type RunStatus string

const (
	RunStatusSuccess  RunStatus = "SUCCESS"
	RunStatusNoAction RunStatus = "NO_ACTION"
	RunStatusFailure  RunStatus = "FAILURE"
)

type DateRange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// ActionRecord is one mutation (or attempted mutation) in the audit trail.
type ActionRecord struct {
	EntityID   string             `json:"entityId,omitempty"`
	EntityType EntityType         `json:"entityType,omitempty"`
	EntityText string             `json:"entityText,omitempty"`
	AdGroupID  string             `json:"adGroupId,omitempty"`
	Action     string             `json:"action"`
	OldValue   *float64           `json:"oldValue,omitempty"`
	NewValue   *float64           `json:"newValue,omitempty"`
	Metrics    map[string]float64 `json:"triggeringMetrics,omitempty"`
	GroupIndex *int               `json:"conditionGroup,omitempty"`
	Stage      string             `json:"stage,omitempty"`
	Success    bool               `json:"success"`
	Error      string             `json:"error,omitempty"`
}

type ErrorRecord struct {
	Scope   string `json:"scope"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// RunDetails is the machine-readable payload of an automation log.
type RunDetails struct {
	DateRange  *DateRange                `json:"dateRange,omitempty"`
	Campaigns  map[string][]ActionRecord `json:"actionsByCampaign,omitempty"`
	Skipped    map[string]int            `json:"skipped,omitempty"`
	Errors     []ErrorRecord             `json:"errors,omitempty"`
	Evaluated  int                       `json:"evaluated"`
	DurationMS int64                     `json:"durationMs"`
}

func (d *RunDetails) AddAction(campaignID string, record ActionRecord) {
	if d.Campaigns == nil {
		d.Campaigns = make(map[string][]ActionRecord)
	}
	d.Campaigns[campaignID] = append(d.Campaigns[campaignID], record)
}

func (d *RunDetails) Skip(reason string) {
	if d.Skipped == nil {
		d.Skipped = make(map[string]int)
	}
	d.Skipped[reason]++
}

func (d *RunDetails) AddError(scope, code, message string) {
	d.Errors = append(d.Errors, ErrorRecord{Scope: scope, Code: code, Message: message})
}

// SuccessfulActions counts actions the platform accepted.
func (d RunDetails) SuccessfulActions() int {
	n := 0
	for _, records := range d.Campaigns {
		for _, r := range records {
			if r.Success {
				n++
			}
		}
	}
	return n
}

// AutomationLog is appended once per rule execution.
type AutomationLog struct {
	LogID   string
	RuleID  string
	Status  RunStatus
	Summary string
	Details RunDetails
	RunAt   time.Time
}

// DailyBudgetOverride remembers a same-day budget raise so it can be reverted.
type DailyBudgetOverride struct {
	OverrideID     string
	RuleID         string
	ProfileID      string
	CampaignID     string
	OriginalBudget float64
	NewBudget      float64
	OverrideDate   string
	RevertedAt     *time.Time
	CreatedAt      time.Time
}
