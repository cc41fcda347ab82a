package dispatch

// Status tells the foreign caller how to read the result buffer.
type Status uint8

const (
	// StatusOK: the buffer holds the lowered return value (empty for void).
	StatusOK Status = iota
	// StatusError: the buffer holds the operation's declared error.
	StatusError
	// StatusUnexpected: the buffer holds a diagnostic message as a String.
	StatusUnexpected
	// StatusInternal: a protocol violation; there is no buffer.
	StatusInternal
)

var statusNames = [...]string{
	StatusOK:         "ok",
	StatusError:      "error",
	StatusUnexpected: "unexpected",
	StatusInternal:   "internal",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "unknown"
}
