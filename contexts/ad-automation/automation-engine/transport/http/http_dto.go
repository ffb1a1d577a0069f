package http

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type RequestRunRequest struct {
	RuleID      string `json:"-"`
	RequestedBy string `json:"requested_by,omitempty"`
}

type RequestRunResponse struct {
	Status string `json:"status"`
	Data   struct {
		RuleID      string `json:"rule_id"`
		EventID     string `json:"event_id"`
		RequestedAt string `json:"requested_at"`
	} `json:"data"`
}

type TickResponse struct {
	Status string `json:"status"`
	Data   struct {
		Considered int `json:"considered"`
		Due        int `json:"due"`
		Executed   int `json:"executed"`
		Failed     int `json:"failed"`
	} `json:"data"`
}

type ListLogsRequest struct {
	RuleID string
	Limit  int
}

type AutomationLogDTO struct {
	LogID   string         `json:"log_id"`
	RuleID  string         `json:"rule_id"`
	Status  string         `json:"status"`
	Summary string         `json:"summary"`
	Details map[string]any `json:"details"`
	RunAt   string         `json:"run_at"`
}

type ListLogsResponse struct {
	Status string             `json:"status"`
	Data   []AutomationLogDTO `json:"data"`
}
