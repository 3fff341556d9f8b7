package models

import (
	"time"

	"github.com/google/uuid"
)

type AlertKind string

const (
	AlertDistress     AlertKind = "distress"
	AlertOTPRequest   AlertKind = "otp_request"
	AlertHighRisk     AlertKind = "high_risk"
	AlertScamDetected AlertKind = "scam_detected"
	AlertDegraded     AlertKind = "degraded"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert é um evento efêmero distribuído pelo AlertBus.
// Detail carrega apenas os campos do seu Kind.
type Alert struct {
	ID             uuid.UUID   `json:"id"`
	SessionID      uuid.UUID   `json:"session_id"`
	Kind           AlertKind   `json:"kind"`
	Severity       Severity    `json:"severity"`
	Message        string      `json:"message"`
	CreatedAt      time.Time   `json:"created_at"`
	ExpiresAt      time.Time   `json:"expires_at"`
	Resolved       bool        `json:"resolved"`
	AllowDuplicate bool        `json:"-"`
	Detail         AlertDetail `json:"detail,omitempty"`
}

// AlertDetail is the closed set of per-kind payloads.
type AlertDetail interface {
	alertKind() AlertKind
}

type DistressDetail struct {
	Keywords []string  `json:"keywords"`
	Location *Location `json:"location,omitempty"`
}

type OTPRequestDetail struct {
	Keywords []string  `json:"keywords"`
	Location *Location `json:"location,omitempty"`
}

type HighRiskDetail struct {
	Score float64   `json:"score"`
	Level RiskLevel `json:"level"`
}

type ScamDetectedDetail struct {
	Score        float64  `json:"score"`
	Reason       string   `json:"reason"` // "reputation", "live", "verdict"
	Explanations []string `json:"explanations,omitempty"`
}

type DegradedDetail struct {
	Component string `json:"component"`
	Error     string `json:"error"`
}

func (DistressDetail) alertKind() AlertKind     { return AlertDistress }
func (OTPRequestDetail) alertKind() AlertKind   { return AlertOTPRequest }
func (HighRiskDetail) alertKind() AlertKind     { return AlertHighRisk }
func (ScamDetectedDetail) alertKind() AlertKind { return AlertScamDetected }
func (DegradedDetail) alertKind() AlertKind     { return AlertDegraded }

// NewAlert builds an alert whose Kind always matches its detail variant.
func NewAlert(sessionID uuid.UUID, severity Severity, message string, detail AlertDetail) Alert {
	return Alert{
		SessionID: sessionID,
		Kind:      detail.alertKind(),
		Severity:  severity,
		Message:   message,
		Detail:    detail,
	}
}

// WithLocation returns a copy of a distress or OTP alert carrying loc.
// Other kinds are returned unchanged.
func (a Alert) WithLocation(loc *Location) Alert {
	if loc == nil {
		return a
	}
	switch d := a.Detail.(type) {
	case DistressDetail:
		d.Location = loc
		a.Detail = d
	case OTPRequestDetail:
		d.Location = loc
		a.Detail = d
	}
	return a
}

// Location returns the location attached to the alert, if any.
func (a Alert) Location() *Location {
	switch d := a.Detail.(type) {
	case DistressDetail:
		return d.Location
	case OTPRequestDetail:
		return d.Location
	}
	return nil
}

type AlertEventType string

const (
	AlertCreated  AlertEventType = "alert_created"
	AlertUpdated  AlertEventType = "alert_updated"
	AlertResolved AlertEventType = "alert_resolved"
)

// AlertEvent is what subscribers receive. Expired is set when the
// resolution came from the TTL rather than an explicit resolve.
type AlertEvent struct {
	Type    AlertEventType `json:"type"`
	Alert   Alert          `json:"alert"`
	Expired bool           `json:"expired,omitempty"`
}
