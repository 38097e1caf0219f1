package tuya

import "errors"

var (
	// ErrShortFrame is returned when fewer bytes than a full frame are given.
	ErrShortFrame = errors.New("tuya: short frame")

	// ErrBadPrefix is returned when a frame does not start with 0x000055AA.
	ErrBadPrefix = errors.New("tuya: bad frame prefix")

	// ErrBadSuffix is returned when a frame does not end with 0x0000AA55.
	ErrBadSuffix = errors.New("tuya: bad frame suffix")

	// ErrBadCRC is returned when the frame checksum does not match.
	ErrBadCRC = errors.New("tuya: crc mismatch")

	// ErrBadPadding is returned when decrypted data has invalid PKCS7 padding.
	ErrBadPadding = errors.New("tuya: invalid padding")

	// ErrBadKey is returned for local keys that are not 16 bytes.
	ErrBadKey = errors.New("tuya: local key must be 16 bytes")

	// ErrUnsupportedVersion is returned for protocol versions other than 3.1 and 3.3.
	ErrUnsupportedVersion = errors.New("tuya: unsupported protocol version")

	// ErrTimeout is returned when a device does not answer in time.
	ErrTimeout = errors.New("tuya: device did not respond")

	// ErrDeviceError is returned when a device answers with a non-zero return code.
	ErrDeviceError = errors.New("tuya: device returned an error")

	// ErrNotConnected is returned when using a closed client.
	ErrNotConnected = errors.New("tuya: not connected")
)
