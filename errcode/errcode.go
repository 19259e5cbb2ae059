package errcode

// Code is a stable, externally-visible error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK Code = "ok"

	// Modbus failure taxonomy. Conn and Timeout implicate the TCP
	// connection and trigger a reconnect; Protocol means the device
	// answered with an exception frame.
	Conn            Code = "conn"
	Protocol        Code = "protocol"
	Timeout         Code = "timeout"
	ReadError       Code = "read_error_response"
	VerifyMismatch  Code = "write_verify_mismatch"
	RetriesExceeded Code = "retries_exceeded"

	Config       Code = "config"
	Validation   Code = "validation"
	Persistence  Code = "persistence"
	UnknownPath  Code = "unknown_path"
	TypeMismatch Code = "type_mismatch"
	ReadOnlyPath Code = "read_only_path"
	NotConnected Code = "not_connected"

	Error Code = "error" // generic fallback
)

// E keeps context and a cause alongside a Code.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	s := string(e.C)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Wrap builds an E with an operation name and cause.
func Wrap(c Code, op string, err error) *E {
	return &E{C: c, Op: op, Err: err}
}

// Of extracts a Code from an error, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	if c, ok := err.(Code); ok {
		return c
	}
	type coder interface{ Code() Code }
	if x, ok := err.(coder); ok {
		return x.Code()
	}
	type unwrapper interface{ Unwrap() error }
	if u, ok := err.(unwrapper); ok {
		return Of(u.Unwrap())
	}
	return Error
}

// IsModbus reports whether the code belongs to the Modbus taxonomy.
func IsModbus(c Code) bool {
	switch c {
	case Conn, Protocol, Timeout, ReadError, VerifyMismatch, RetriesExceeded:
		return true
	}
	return false
}

// ImplicatesConnection reports whether the failure warrants a reconnect.
func ImplicatesConnection(c Code) bool {
	return c == Conn || c == Timeout
}
