package frame

import "errors"

var (
	ErrEmptyLine   = errors.New("frame: empty line")
	ErrMalformed   = errors.New("frame: malformed message")
	ErrEncode      = errors.New("frame: cannot encode message")
	ErrLineTooLong = errors.New("frame: line exceeds maximum length")
)
