// Package containerport is C4, the typed port to the host container
// platform. Operations are assumed non-idempotent; the Deployment State
// Machine (internal/deployment) tracks progress so it never calls Create
// twice for the same record and never double-installs past
// MAX_INSTALL_ATTEMPTS (spec.md §4.4).
package containerport

import "context"

// Code classifies a host operation failure.
type Code string

const (
	Temporary Code = "temporary"
	Permanent Code = "permanent"
)

// Error is returned by Port methods.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string { return string(e.Code) + ": " + e.Message }

func (e *Error) Retryable() bool {
	return e != nil && e.Code == Temporary
}

// ContainerID identifies a provisioned execution container.
type ContainerID string

// Port is the container create / install-code / destroy contract spec.md
// §4.4 describes.
type Port interface {
	// Create provisions a new, empty container and returns its id. Per
	// spec.md §4.8 rule 2, this is invoked at most once per deployment; an
	// ambiguous (timeout/connection-loss) result must still be handled by
	// the caller inspecting whatever id, if any, came back before the
	// error.
	Create(ctx context.Context) (ContainerID, error)

	// Install pushes codeImage into container and runs its initializer
	// with initBlob. May be retried by the caller against the same
	// container id for Temporary failures only.
	Install(ctx context.Context, id ContainerID, codeImage []byte, initBlob []byte) error

	// Destroy tears the container down. Called when a deployment fails
	// after a container was created, and not otherwise.
	Destroy(ctx context.Context, id ContainerID) error
}
