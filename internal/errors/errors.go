package errors

// RequestError is returned for malformed inbound requests. It is the only
// error in the taxonomy that surfaces to the caller as a hard failure.
type RequestError struct {
	ErrorMsg string
}

func (m *RequestError) Error() string {
	return m.ErrorMsg
}

// NotFoundError signals a feature-cache miss. It is always recovered
// locally via the degraded path and never surfaced to the caller.
type NotFoundError struct {
	ErrorMsg string
}

func (m *NotFoundError) Error() string {
	return m.ErrorMsg
}

// NoReplicaError signals that no model replica could serve the call within
// its sub-deadline, including the degraded-replica fallback attempt.
type NoReplicaError struct {
	ErrorMsg string
}

func (m *NoReplicaError) Error() string {
	return m.ErrorMsg
}

// StaleRuleSetError rejects a rule-set publish whose version is not strictly
// greater than the currently active one.
type StaleRuleSetError struct {
	ErrorMsg string
}

func (m *StaleRuleSetError) Error() string {
	return m.ErrorMsg
}

type ParsingError struct {
	ErrorMsg string
}

func (m *ParsingError) Error() string {
	return m.ErrorMsg
}
