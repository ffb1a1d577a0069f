package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Envelope is the versioned event envelope shared by automation publishers
// and consumers. Fields may be added but never renamed.
type Envelope struct {
	EventID          string          `json:"event_id"`
	EventType        string          `json:"event_type"`
	OccurredAt       time.Time       `json:"occurred_at"`
	SourceService    string          `json:"source_service"`
	TraceID          string          `json:"trace_id"`
	SchemaVersion    int             `json:"schema_version"`
	PartitionKeyPath string          `json:"partition_key_path"`
	PartitionKey     string          `json:"partition_key"`
	Data             json.RawMessage `json:"data"`
}

var ErrInvalidEnvelope = errors.New("invalid event envelope")

// Validate checks the fields every bus adapter relies on.
func (e Envelope) Validate() error {
	switch {
	case strings.TrimSpace(e.EventID) == "":
		return fmt.Errorf("%w: event_id is required", ErrInvalidEnvelope)
	case strings.TrimSpace(e.EventType) == "":
		return fmt.Errorf("%w: event_type is required", ErrInvalidEnvelope)
	case e.SchemaVersion < 1:
		return fmt.Errorf("%w: schema_version must be positive", ErrInvalidEnvelope)
	}
	return nil
}

// DecodeData unmarshals the payload of e into out.
func (e Envelope) DecodeData(out any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%w: %s has no data", ErrInvalidEnvelope, e.EventID)
	}
	if err := json.Unmarshal(e.Data, out); err != nil {
		return fmt.Errorf("decode %s data: %w", e.EventType, err)
	}
	return nil
}
