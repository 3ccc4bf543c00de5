package model

import "time"

type SourceType string

const (
	SourceIncident SourceType = "incident"
	SourceSystem   SourceType = "system"
	SourceEmail    SourceType = "email"
	SourceStored   SourceType = "stored"
)

// Notification is the unified entry shown in the notification log.
type Notification struct {
	ID        string            `json:"id"`
	Source    SourceType        `json:"source"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Severity  Severity          `json:"severity"`
	Timestamp time.Time         `json:"timestamp"`
	Read      bool              `json:"read"`
	Data      map[string]string `json:"data,omitempty"`
}

// RoleRule enables one email kind for the listed roles.
type RoleRule struct {
	Enabled     bool     `json:"enabled"`
	NotifyRoles []string `json:"notify_roles,omitempty"`
}

type SeverityFilters struct {
	Low      bool `json:"notify_on_low"`
	Medium   bool `json:"notify_on_medium"`
	High     bool `json:"notify_on_high"`
	Critical bool `json:"notify_on_critical"`
}

// Allows reports whether email for severity s is enabled.
func (f SeverityFilters) Allows(s Severity) bool {
	switch s {
	case SeverityLow:
		return f.Low
	case SeverityMedium:
		return f.Medium
	case SeverityHigh:
		return f.High
	case SeverityCritical:
		return f.Critical
	}
	return false
}

type CreatedRule struct {
	RoleRule
	NotifyZoneResponders bool `json:"notify_zone_responders"`
}

type AssignedRule struct {
	RoleRule
	NotifyAssignedResponder bool `json:"notify_assigned_responder"`
}

type StatusUpdateRule struct {
	RoleRule
	NotifyOnResolved   bool `json:"notify_on_resolved"`
	NotifyOnInProgress bool `json:"notify_on_in_progress"`
}

type ApprovalRule struct {
	RoleRule
	NotifyOnApproved  bool `json:"notify_on_approved"`
	NotifyOnDismissed bool `json:"notify_on_dismissed"`
}

type EmailSettings struct {
	Enabled              bool             `json:"email_notifications_enabled"`
	IncidentCreated      CreatedRule      `json:"incident_created"`
	IncidentAssigned     AssignedRule     `json:"incident_assigned"`
	IncidentStatusUpdate StatusUpdateRule `json:"incident_status_update"`
	IncidentApproval     ApprovalRule     `json:"incident_approval"`
	SeverityFilters      SeverityFilters  `json:"severity_filters"`
}

func DefaultEmailSettings() EmailSettings {
	rule := func() RoleRule {
		return RoleRule{Enabled: true, NotifyRoles: []string{"admin", "operator"}}
	}
	return EmailSettings{
		Enabled:              true,
		IncidentCreated:      CreatedRule{RoleRule: rule(), NotifyZoneResponders: true},
		IncidentAssigned:     AssignedRule{RoleRule: rule(), NotifyAssignedResponder: true},
		IncidentStatusUpdate: StatusUpdateRule{RoleRule: rule(), NotifyOnResolved: true, NotifyOnInProgress: true},
		IncidentApproval:     ApprovalRule{RoleRule: rule(), NotifyOnApproved: true, NotifyOnDismissed: true},
		SeverityFilters:      SeverityFilters{Low: true, Medium: true, High: true, Critical: true},
	}
}
