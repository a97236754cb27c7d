package models

import (
	"fmt"
	"strings"
	"time"
)

type AlertType string

const (
	AlertTypeAmbulance AlertType = "ambulance"
	AlertTypeFire      AlertType = "fire"
	AlertTypePolice    AlertType = "police"
	AlertTypeDisaster  AlertType = "disaster"
	AlertTypeGeneral   AlertType = "general"
)

// ParseAlertType normalizes free-text producer values into the closed set.
func ParseAlertType(s string) (AlertType, error) {
	switch t := AlertType(strings.ToLower(strings.TrimSpace(s))); t {
	case AlertTypeAmbulance, AlertTypeFire, AlertTypePolice, AlertTypeDisaster, AlertTypeGeneral:
		return t, nil
	default:
		return "", fmt.Errorf("unknown alert type: %q", s)
	}
}

func (t *AlertType) UnmarshalText(b []byte) error {
	parsed, err := ParseAlertType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

type AlertStatus string

const (
	AlertStatusActive AlertStatus = "active"
	AlertStatusClosed AlertStatus = "closed"
)

type EmergencyAlert struct {
	ID          string      `json:"-"`
	Type        AlertType   `json:"type"`
	Status      AlertStatus `json:"status"`
	Location    GeoPoint    `json:"location"`
	CreatedAt   time.Time   `json:"timestamp"`
	Description string      `json:"description,omitempty"`
	ReportedBy  string      `json:"reportedBy,omitempty"`
}

// Age is the time elapsed since the alert was raised.
func (a *EmergencyAlert) Age(now time.Time) time.Duration {
	return now.Sub(a.CreatedAt)
}
