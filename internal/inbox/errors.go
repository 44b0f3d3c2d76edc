package inbox

import "errors"

var (
	// ErrHandlerNotFound describes a message type with no registered
	// handler. Nothing returns it: the strategies dead-letter such a message
	// with a reason string of the same wording instead.
	ErrHandlerNotFound = errors.New("inbox: no handler registered for message type")

	// ErrInvalidOptions is returned by Options.Validate.
	ErrInvalidOptions = errors.New("inbox: invalid options")

	// ErrShutdownTimeout is returned by ProcessingLoop.Stop when in-flight
	// work did not finish before ShutdownTimeout elapsed. Messages left
	// captured will be recovered by lease expiry.
	ErrShutdownTimeout = errors.New("inbox: shutdown timeout exceeded; messages left captured for lease recovery")

	// ErrUnsupportedCapability is returned when a caller asks for an
	// optional storage capability (group-lock release, cleanup, migrate)
	// the configured provider does not implement.
	ErrUnsupportedCapability = errors.New("inbox: storage provider does not support this capability")

	// ErrDuplicateID signals a write whose message id already exists;
	// providers treat this as a no-op, not a surfaced failure.
	ErrDuplicateID = errors.New("inbox: message id already present")
)
