package tuya

import (
	"bytes"
	"crypto/aes"
	"crypto/md5" //nolint:gosec // Required by the protocol
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// Protocol versions.
const (
	Version31 = "3.1"
	Version33 = "3.3"
)

// version33Header is prepended to 3.3 payloads: the version and 12 zero bytes.
var version33Header = append([]byte(Version33), make([]byte, 12)...)

// udpKey decrypts discovery broadcasts on port 6667.
var udpKey = func() []byte {
	sum := md5.Sum([]byte("yGAdlopoPVldABfn")) //nolint:gosec // Fixed protocol key
	return sum[:]
}()

// encryptECB encrypts with AES-128-ECB and PKCS7 padding, as devices expect.
func encryptECB(key, plain []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadKey, err)
	}
	bs := block.BlockSize()
	pad := bs - len(plain)%bs
	data := append(append([]byte(nil), plain...), bytes.Repeat([]byte{byte(pad)}, pad)...)

	out := make([]byte, len(data))
	for i := 0; i < len(data); i += bs {
		block.Encrypt(out[i:i+bs], data[i:i+bs])
	}
	return out, nil
}

// decryptECB reverses encryptECB.
func decryptECB(key, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadKey, err)
	}
	bs := block.BlockSize()
	if len(data) == 0 || len(data)%bs != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d", ErrBadPadding, len(data))
	}

	out := make([]byte, len(data))
	for i := 0; i < len(data); i += bs {
		block.Decrypt(out[i:i+bs], data[i:i+bs])
	}

	pad := int(out[len(out)-1])
	if pad == 0 || pad > bs {
		return nil, ErrBadPadding
	}
	for _, b := range out[len(out)-pad:] {
		if int(b) != pad {
			return nil, ErrBadPadding
		}
	}
	return out[:len(out)-pad], nil
}

// sign31 returns the 16 hex characters version 3.1 puts before a payload.
func sign31(key []byte, b64 string) string {
	sum := md5.Sum([]byte("data=" + b64 + "||lpv=" + Version31 + "||" + string(key))) //nolint:gosec // Required by the protocol
	return hex.EncodeToString(sum[:])[8:24]
}

// Codec encrypts and decrypts payloads for one device.
type Codec struct {
	key     []byte
	version string
}

// NewCodec creates a codec for a local key and protocol version.
func NewCodec(localKey, version string) (*Codec, error) {
	if len(localKey) != 16 {
		return nil, ErrBadKey
	}
	switch version {
	case Version31, Version33:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedVersion, version)
	}
	return &Codec{key: []byte(localKey), version: version}, nil
}

// Version returns the protocol version.
func (c *Codec) Version() string { return c.version }

// Seal builds the payload of a client frame.
func (c *Codec) Seal(cmd uint32, jsonPayload []byte) ([]byte, error) {
	switch c.version {
	case Version33:
		enc, err := encryptECB(c.key, jsonPayload)
		if err != nil {
			return nil, err
		}
		if cmd == CmdDPQuery {
			return enc, nil
		}
		return append(append([]byte(nil), version33Header...), enc...), nil

	default:
		// 3.1 only encrypts control commands.
		if cmd != CmdControl {
			return jsonPayload, nil
		}
		enc, err := encryptECB(c.key, jsonPayload)
		if err != nil {
			return nil, err
		}
		b64 := base64.StdEncoding.EncodeToString(enc)
		return []byte(Version31 + sign31(c.key, b64) + b64), nil
	}
}

// Open decodes the payload of a device frame into JSON. Empty payloads
// stay empty.
func (c *Codec) Open(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	if payload[0] == '{' {
		return payload, nil
	}

	switch {
	case bytes.HasPrefix(payload, []byte(Version33)):
		if len(payload) < len(version33Header) {
			return nil, fmt.Errorf("%w: truncated version header", ErrShortFrame)
		}
		return decryptECB(c.key, payload[len(version33Header):])

	case bytes.HasPrefix(payload, []byte(Version31)):
		// "3.1" + 16 hex signature + base64 ciphertext.
		const sigEnd = len(Version31) + 16
		if len(payload) < sigEnd {
			return nil, fmt.Errorf("%w: truncated 3.1 payload", ErrShortFrame)
		}
		enc, err := base64.StdEncoding.DecodeString(string(payload[sigEnd:]))
		if err != nil {
			return nil, fmt.Errorf("decoding 3.1 payload: %w", err)
		}
		return decryptECB(c.key, enc)

	default:
		return decryptECB(c.key, payload)
	}
}
