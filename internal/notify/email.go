package notify

import (
	"fmt"
	"slices"
	"strings"

	"alertdesk/internal/model"
)

type EmailKind string

const (
	EmailIncidentCreated      EmailKind = "incident_created"
	EmailIncidentAssigned     EmailKind = "incident_assigned"
	EmailIncidentStatusUpdate EmailKind = "incident_status_update"
	EmailIncidentApproval     EmailKind = "incident_approval"
)

func humanType(t string) string {
	return strings.Replace(t, "_", " ", 1)
}

// composeEmail renders the simulated email for kind. Unknown kinds get a
// generic notice.
func composeEmail(kind EmailKind, inc model.Incident) model.Notification {
	n := model.Notification{
		Source: model.SourceEmail,
		Data: map[string]string{
			"emailType":  string(kind),
			"incidentId": inc.ID,
			"zone":       inc.Zone,
		},
	}
	switch kind {
	case EmailIncidentCreated:
		n.ID = "email-created-" + inc.ID
		n.Title = fmt.Sprintf("New %s Incident Alert", inc.Severity)
		n.Message = fmt.Sprintf("%s detected in %s: %s", humanType(inc.Type), inc.Zone, inc.Description)
		n.Severity = inc.Severity
	case EmailIncidentAssigned:
		n.ID = "email-assigned-" + inc.ID
		n.Title = "Incident Assignment"
		n.Message = fmt.Sprintf("You have been assigned to handle a %s incident in %s", humanType(inc.Type), inc.Zone)
		n.Severity = inc.Severity
	case EmailIncidentStatusUpdate:
		n.Title = "Incident Status Update"
		n.Message = fmt.Sprintf("Incident in %s status changed to %s", inc.Zone, inc.Status)
		n.Severity = model.SeverityMedium
	case EmailIncidentApproval:
		decision := "dismissed"
		if inc.HumanApproved {
			decision = "approved"
		}
		n.Title = "Incident Approval Decision"
		n.Message = fmt.Sprintf("High-risk incident in %s has been %s", inc.Zone, decision)
		n.Severity = model.SeverityHigh
	default:
		n.Title = "Email Notification"
		n.Message = "You have received a new email notification"
		n.Severity = model.SeverityMedium
	}
	if n.Severity == "" {
		n.Severity = model.SeverityMedium
	}
	return n
}

// emailAllowed applies the global switch, the per-kind rule, the severity
// filter and the audience of the rule to one simulated email.
func emailAllowed(s model.EmailSettings, kind EmailKind, inc model.Incident, severity model.Severity, who model.Session) bool {
	if !s.Enabled || !s.SeverityFilters.Allows(severity) {
		return false
	}
	var rule model.RoleRule
	extra := false
	switch kind {
	case EmailIncidentCreated:
		rule = s.IncidentCreated.RoleRule
		extra = s.IncidentCreated.NotifyZoneResponders && who.Role == "responder" && who.Zone != "" && who.Zone == inc.Zone
	case EmailIncidentAssigned:
		rule = s.IncidentAssigned.RoleRule
		extra = s.IncidentAssigned.NotifyAssignedResponder && who.UserID != "" && who.UserID == inc.AssignedTo
	case EmailIncidentStatusUpdate:
		rule = s.IncidentStatusUpdate.RoleRule
		switch inc.Status {
		case model.IncidentResolved:
			if !s.IncidentStatusUpdate.NotifyOnResolved {
				return false
			}
		case model.IncidentInProgress:
			if !s.IncidentStatusUpdate.NotifyOnInProgress {
				return false
			}
		}
	case EmailIncidentApproval:
		rule = s.IncidentApproval.RoleRule
		if inc.HumanApproved && !s.IncidentApproval.NotifyOnApproved {
			return false
		}
		if !inc.HumanApproved && !s.IncidentApproval.NotifyOnDismissed {
			return false
		}
	default:
		return true
	}
	if !rule.Enabled {
		return false
	}
	if who.Role == "" || len(rule.NotifyRoles) == 0 {
		return true
	}
	return extra || slices.Contains(rule.NotifyRoles, who.Role)
}

// SimulateEmail records the simulated email for kind when settings allow it.
// created and assigned emails have ids derived from the incident, so
// repeated triggers add nothing.
func (s *Store) SimulateEmail(kind EmailKind, inc model.Incident, who model.Session) (model.Notification, bool) {
	n := composeEmail(kind, inc)
	if !emailAllowed(s.EmailSettings(), kind, inc, n.Severity, who) {
		return n, false
	}
	return s.AddEmail(n)
}
