package arc

import "errors"

// Sentinel errors for archive operations. Use errors.Is in callers.
var (
	// ErrUnknownFormat means no registered format matched the stream.
	ErrUnknownFormat = errors.New("no registered format matched")
	// ErrMalformed means a format or filter found structurally invalid bytes.
	ErrMalformed = errors.New("malformed archive data")
	// ErrSizeMismatch means the written payload does not match the declared entry size.
	ErrSizeMismatch = errors.New("payload does not match declared entry size")
	// ErrInvalidState means the operation is not valid in the handle's current state.
	ErrInvalidState = errors.New("operation invalid in current state")
	// ErrNotFound means the named entry is not present in the archive.
	ErrNotFound = errors.New("entry not found")
	// ErrWriteUnsupported means the selected format cannot write archives.
	ErrWriteUnsupported = errors.New("format does not support writing")
)
