package coordinator

import "errors"

// Sentinel errors for the transient, participant-scoped failures of spec
// §7's taxonomy. Model-fatal errors are not sentinels: they carry the
// underlying cause and are logged, then translated to ModelForceClose.
var (
	// ErrModelAlreadyOpen is returned when a session opens a model it has
	// already opened.
	ErrModelAlreadyOpen = errors.New("coordinator: model already open for this session")
	// ErrModelNotOpened names a session acting on a model it has not
	// opened. No function in this package returns it: submissions and
	// reference updates from such a session are dropped without a reply.
	ErrModelNotOpened = errors.New("coordinator: model not opened for this session")
	// ErrInvalidContextVersion names a submission whose contextVersion
	// exceeds the current model version. No function in this package
	// returns it: such a submission is rejected with the text of
	// scc.ErrInvalidContextVersion and the model is force-closed.
	ErrInvalidContextVersion = errors.New("coordinator: invalid context version")
	// ErrModelNotFound names a model that could not be located for Open.
	// No function in this package returns it.
	ErrModelNotFound = errors.New("coordinator: model not found")
	// ErrDataRequestTimeout is the OpenFailure reason when a cold-start
	// opener fails to respond within the configured timeout.
	ErrDataRequestTimeout = errors.New("coordinator: data request timed out")
	// ErrShuttingDown names a message arriving for a coordinator that has
	// already transitioned to Shutdown. No function in this package
	// returns it.
	ErrShuttingDown = errors.New("coordinator: model is shutting down")
)
