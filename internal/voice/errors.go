package voice

import "fmt"

// ErrorKind classifies a user-visible failure.
type ErrorKind int

const (
	ErrorNone ErrorKind = iota
	// ErrorPermission needs user action in system settings.
	ErrorPermission
	// ErrorDevice is an audio engine or input setup failure.
	ErrorDevice
	// ErrorTransport ends a live session.
	ErrorTransport
	// ErrorDecode is a malformed or schema-mismatched payload.
	ErrorDecode
	// ErrorTransient is a network failure that already exhausted its retry.
	ErrorTransient
)

var errorKindNames = [...]string{"", "permission", "device", "transport", "decode", "transient"}

func (k ErrorKind) String() string {
	if k < 0 || int(k) >= len(errorKindNames) {
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
	return errorKindNames[k]
}

// MarshalText implements encoding.TextMarshaler.
func (k ErrorKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }
