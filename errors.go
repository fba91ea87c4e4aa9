package learnly

// ConfigError signals a missing precondition for an operation, e.g. an
// absent subject id when opening the push channel. It is reported through
// the error callback, never returned from Connect.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "configuration: " + e.Reason
}

// TransportError signals a push connection that failed to open or closed
// abnormally. It drives the reconnection state machine and is observable
// only through the error callback.
type TransportError struct {
	Code   int
	Reason string
}

func (e *TransportError) Error() string {
	if e.Reason == "" {
		return "transport: connection closed"
	}
	return "transport: " + e.Reason
}

// ValidationError signals a malformed inbound event. Malformed events are
// dropped with a warning and never propagated past the reconciler.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

// PersistenceError signals a failed REST mutation after an optimistic
// local update. The local state has already been rolled back when it is
// returned.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return "persistence: " + e.Op + ": " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
