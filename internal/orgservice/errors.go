package orgservice

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrNotReady is returned by every guarded operation when the service has
	// no ready client: never connected, connection failed, or closed.
	ErrNotReady = errors.New("service is not ready")

	// ErrUnknownOrganization means no resolver matched and no fallback is set.
	ErrUnknownOrganization = errors.New("unknown organization")
)

// ConfigurationMismatchError is raised during Connect when the remote side
// reports a different organization than the one configured.
type ConfigurationMismatchError struct {
	OrganizationID uuid.UUID
	ConnectedOrgID uuid.UUID
}

func (e *ConfigurationMismatchError) Error() string {
	return fmt.Sprintf("organization id does not match connected service (configured %s, connected %s)", e.OrganizationID, e.ConnectedOrgID)
}
