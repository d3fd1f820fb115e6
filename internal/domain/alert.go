package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AlertSeverity classifies monitor findings.
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// Alert is a monitor finding. Alerts are append-only and carry structured
// details for the specific check that produced them.
type Alert struct {
	ID        uuid.UUID       `json:"id"`
	Severity  AlertSeverity   `json:"severity"`
	Check     string          `json:"check"`
	Message   string          `json:"message"`
	Details   json.RawMessage `json:"details"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewAlert builds an alert with a fresh id. Details marshalling failures
// degrade to an empty object rather than dropping the alert.
func NewAlert(severity AlertSeverity, check, message string, details any) Alert {
	payload, err := json.Marshal(details)
	if err != nil || details == nil {
		payload = json.RawMessage(`{}`)
	}
	return Alert{
		ID:        uuid.New(),
		Severity:  severity,
		Check:     check,
		Message:   message,
		Details:   payload,
		CreatedAt: time.Now().UTC(),
	}
}
