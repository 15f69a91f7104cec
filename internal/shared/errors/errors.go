package errors

import "fmt"

// Revocation phases
const (
	PhaseResolve = "resolve"
	PhaseLive    = "live_remove"
	PhaseConfig  = "config_rewrite"
	PhaseReload  = "reload"
)

// RevocationError records which phase of a peer revocation failed
type RevocationError struct {
	LeaseID string
	Phase   string
	Err     error
}

func (e *RevocationError) Error() string {
	return fmt.Sprintf("revocation failed at %s (lease=%s): %v", e.Phase, e.LeaseID, e.Err)
}

func (e *RevocationError) Unwrap() error {
	return e.Err
}

// NewRevocationError creates a new revocation error
func NewRevocationError(leaseID, phase string, err error) *RevocationError {
	return &RevocationError{
		LeaseID: leaseID,
		Phase:   phase,
		Err:     err,
	}
}
