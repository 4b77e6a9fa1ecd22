// Package ssh provides the SSH transport used to read facts from remote hosts.
package ssh

// ErrorKind says whether retrying a failed operation can help.
type ErrorKind int

const (
	// KindPermanent failures repeat on retry, e.g. a command that exits non-zero.
	KindPermanent ErrorKind = iota
	// KindTemporary covers network failures and timeouts.
	KindTemporary
	// KindAuth means the host rejected the credentials or they could not be loaded.
	KindAuth
)

// TransportError wraps a failed connect or execute.
type TransportError struct {
	Op   string // "connect" or "execute"
	Kind ErrorKind
	Err  error
}

func (e *TransportError) Error() string {
	return "ssh " + e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// Temporary reports whether the operation may succeed if retried.
func (e *TransportError) Temporary() bool { return e.Kind == KindTemporary }
