package p1

import "errors"

var (
	// ErrCRCMismatch is returned when a telegram's checksum does not match.
	ErrCRCMismatch = errors.New("p1: crc mismatch")

	// ErrBadCRCField is returned when the text after '!' is not a checksum.
	ErrBadCRCField = errors.New("p1: malformed crc field")

	// ErrBufferOverflow is returned when no telegram end is found in time.
	ErrBufferOverflow = errors.New("p1: buffer overflow")

	// ErrNoHeader is returned when a telegram does not start with '/'.
	ErrNoHeader = errors.New("p1: missing telegram header")

	// ErrShortFrame is returned when an encrypted frame is truncated.
	ErrShortFrame = errors.New("p1: short encrypted frame")

	// ErrBadFrame is returned when an encrypted frame has an invalid layout.
	ErrBadFrame = errors.New("p1: invalid encrypted frame")

	// ErrDecrypt is returned when GCM authentication fails.
	ErrDecrypt = errors.New("p1: decryption failed")

	// ErrBadKey is returned for keys that are not 16 bytes of hex.
	ErrBadKey = errors.New("p1: invalid key")
)
