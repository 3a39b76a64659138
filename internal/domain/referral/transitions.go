package referral

import (
	"fmt"
	"strings"

	"github.com/medref/medref/internal/platform/auth"
)

// transitions lists the statuses reachable from each status.
var transitions = map[string][]string{
	StatusPending:   {StatusSent, StatusCompleted},
	StatusSent:      {StatusCompleted},
	StatusCompleted: {},
}

// transitionRoles lists the roles allowed to perform each transition.
// Admin is always allowed.
var transitionRoles = map[[2]string][]string{
	{StatusPending, StatusSent}:      {auth.RoleDoctor},
	{StatusPending, StatusCompleted}: {auth.RoleLabTechnician},
	{StatusSent, StatusCompleted}:    {auth.RoleLabTechnician},
}

var urgencies = map[string]bool{
	UrgencyNormal:    true,
	UrgencyUrgent:    true,
	UrgencyEmergency: true,
}

// ValidateTransition returns ErrInvalidTransition when from cannot move to to.
func ValidateTransition(from, to string) error {
	next, ok := transitions[from]
	if !ok {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, from)
	}
	for _, s := range next {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// CanTransition reports whether role may move a referral from one status to another.
func CanTransition(role, from, to string) bool {
	if role == auth.RoleAdmin {
		return true
	}
	for _, r := range transitionRoles[[2]string{from, to}] {
		if r == role {
			return true
		}
	}
	return false
}

// NormalizeStatus matches s case-insensitively against the known statuses.
func NormalizeStatus(s string) (string, bool) {
	for status := range transitions {
		if strings.EqualFold(status, strings.TrimSpace(s)) {
			return status, true
		}
	}
	return "", false
}

// NormalizeUrgency lowercases u and defaults it to normal.
func NormalizeUrgency(u string) (string, bool) {
	u = strings.ToLower(strings.TrimSpace(u))
	if u == "" {
		return UrgencyNormal, true
	}
	return u, urgencies[u]
}
