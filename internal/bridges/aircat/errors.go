package aircat

import "errors"

// Domain errors for the AirCat bridge package.
var (
	// ErrTooShort is returned by Decode for buffers under MinFrameLen bytes.
	// The handler tolerates it: no reply, connection stays open.
	ErrTooShort = errors.New("aircat: frame too short")

	// ErrInvalidJSON is returned when the selected {...} substring does not
	// parse as a JSON object. The frame is dropped without an ack.
	ErrInvalidJSON = errors.New("aircat: invalid status json")

	// ErrPeerClosed marks a zero-byte read; the connection is torn down.
	ErrPeerClosed = errors.New("aircat: peer closed connection")

	// ErrAccept wraps a failure from the listening socket. The reactor
	// logs it and keeps accepting.
	ErrAccept = errors.New("aircat: accept failed")

	// ErrHandlerPanic is reported when handling one event panicked.
	ErrHandlerPanic = errors.New("aircat: handler panic")

	// ErrNotStarted is returned by PollOnce before Start.
	ErrNotStarted = errors.New("aircat: reactor not started")

	// ErrStopped is returned once the reactor has been stopped.
	ErrStopped = errors.New("aircat: reactor stopped")

	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("aircat: reactor already started")

	// ErrInvalidOptions is returned by New for unusable options.
	ErrInvalidOptions = errors.New("aircat: invalid options")
)
