// Package balerr defines BalanceChain's typed error taxonomy. Each kind
// is a concrete Go type implementing error with an exported Kind method
// so callers can errors.As to the specific kind while commit boundaries
// still report the spec's {ok:false, reason, rule?, message?} shape.
package balerr

import "fmt"

// Kind identifies which of the six taxonomy buckets an error belongs to.
type Kind string

const (
	KindValidation Kind = "validation"
	KindStore      Kind = "store"
	KindIntegrity  Kind = "integrity"
	KindAuth       Kind = "auth"
	KindConfig     Kind = "config"
	KindTransport  Kind = "transport"
)

// ValidationError reports a nine-rule validator failure: which rule
// number failed, its reason code, and a human-readable message.
type ValidationError struct {
	Rule    int
	Reason  string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: rule %d: %s: %s", e.Rule, e.Reason, e.Message)
}
func (e *ValidationError) Kind() Kind { return KindValidation }

// StoreError reports a failure in the persistence layer.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("store: %s: %v", e.Op, e.Err) }
func (e *StoreError) Kind() Kind    { return KindStore }
func (e *StoreError) Unwrap() error { return e.Err }

// IntegrityError reports a full-scan or backup-eligibility failure.
type IntegrityError struct {
	Code string
	Seq  int64
}

func (e *IntegrityError) Error() string {
	if e.Seq > 0 {
		return fmt.Sprintf("integrity: %s at seq %d", e.Code, e.Seq)
	}
	return fmt.Sprintf("integrity: %s", e.Code)
}
func (e *IntegrityError) Kind() Kind { return KindIntegrity }

// AuthError reports a signature, key, or liveness-proof failure.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string { return fmt.Sprintf("auth: %s", e.Reason) }
func (e *AuthError) Kind() Kind    { return KindAuth }

// ConfigError reports a malformed or missing configuration value.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string { return fmt.Sprintf("config: %s: %s", e.Field, e.Reason) }
func (e *ConfigError) Kind() Kind    { return KindConfig }

// TransportError reports a boundary-only hook failure (P2P, sync) — the
// transport itself is out of scope, but the type exists so commit paths
// that accept remote segments can classify failures uniformly.
type TransportError struct {
	Reason string
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport: %s", e.Reason) }
func (e *TransportError) Kind() Kind    { return KindTransport }
