package enums

import "fmt"

// AuditAction identifies the privileged or security-sensitive operation an
// audit entry records.
type AuditAction string

const (
	AuditActionForceRelease        AuditAction = "force_release"
	AuditActionForceRefund         AuditAction = "force_refund"
	AuditActionCredentialsRevealed AuditAction = "credentials_revealed"
	AuditActionDisputeRaised       AuditAction = "dispute_raised"
)

var validAuditActions = []AuditAction{
	AuditActionForceRelease,
	AuditActionForceRefund,
	AuditActionCredentialsRevealed,
	AuditActionDisputeRaised,
}

// String implements fmt.Stringer.
func (a AuditAction) String() string {
	return string(a)
}

// IsValid reports whether the value is a known AuditAction.
func (a AuditAction) IsValid() bool {
	for _, candidate := range validAuditActions {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseAuditAction converts raw input into an AuditAction.
func ParseAuditAction(value string) (AuditAction, error) {
	for _, candidate := range validAuditActions {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid audit action %q", value)
}
