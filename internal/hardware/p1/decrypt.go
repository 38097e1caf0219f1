package p1

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

// Encrypted frame layout used by Luxembourg and Austrian smart meters:
//
//	DB | 08 | system title (8) | length (1, or 82 + 2) | 30 | frame counter (4) | ciphertext | tag (12)
//
// length counts everything after itself.
const (
	frameTag          = 0xDB
	systemTitleLength = 8
	longLengthMarker  = 0x82
	securityByte      = 0x30
	frameCounterSize  = 4
	gcmTagSize        = 12
	keySize           = 16

	// headerSize is tag + title length byte + title.
	headerSize = 2 + systemTitleLength
)

// DefaultAuthKey is the authentication key meters use unless the grid
// operator supplied another one.
const DefaultAuthKey = "00112233445566778899AABBCCDDEEFF"

// Decryptor opens AES-128-GCM encrypted telegrams.
type Decryptor struct {
	aead cipher.AEAD
	aad  []byte
}

// NewDecryptor creates a decryptor from hex encoded keys. An empty auth
// key selects DefaultAuthKey.
func NewDecryptor(keyHex, authKeyHex string) (*Decryptor, error) {
	key, err := parseKey(keyHex)
	if err != nil {
		return nil, fmt.Errorf("decryption key: %w", err)
	}
	if authKeyHex == "" {
		authKeyHex = DefaultAuthKey
	}
	authKey, err := parseKey(authKeyHex)
	if err != nil {
		return nil, fmt.Errorf("auth key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithTagSize(block, gcmTagSize)
	if err != nil {
		return nil, fmt.Errorf("creating gcm: %w", err)
	}

	aad := make([]byte, 0, 1+keySize)
	aad = append(aad, securityByte)
	aad = append(aad, authKey...)
	return &Decryptor{aead: aead, aad: aad}, nil
}

func parseKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadKey, err)
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrBadKey, keySize, len(key))
	}
	return key, nil
}

// frame is a parsed encrypted frame.
type frame struct {
	systemTitle  []byte
	frameCounter []byte
	sealed       []byte // ciphertext followed by the tag
}

// frameLength returns the total size of the frame at the start of buf, or
// 0 when more bytes are needed to know it.
func frameLength(buf []byte) (int, error) {
	if len(buf) < headerSize+1 {
		return 0, nil
	}
	if buf[0] != frameTag {
		return 0, fmt.Errorf("%w: tag %02X", ErrBadFrame, buf[0])
	}
	if buf[1] != systemTitleLength {
		return 0, fmt.Errorf("%w: system title length %d", ErrBadFrame, buf[1])
	}

	lenByte := buf[headerSize]
	switch {
	case lenByte == longLengthMarker:
		if len(buf) < headerSize+3 {
			return 0, nil
		}
		n := int(binary.BigEndian.Uint16(buf[headerSize+1 : headerSize+3]))
		return headerSize + 3 + n, nil
	case lenByte < 0x80:
		return headerSize + 1 + int(lenByte), nil
	default:
		return 0, fmt.Errorf("%w: length encoding %02X", ErrBadFrame, lenByte)
	}
}

func parseFrame(b []byte) (*frame, error) {
	total, err := frameLength(b)
	if err != nil {
		return nil, err
	}
	if total == 0 || len(b) < total {
		return nil, ErrShortFrame
	}

	pos := headerSize + 1
	if b[headerSize] == longLengthMarker {
		pos += 2
	}
	if total-pos < 1+frameCounterSize+gcmTagSize {
		return nil, fmt.Errorf("%w: payload too small", ErrBadFrame)
	}
	if b[pos] != securityByte {
		return nil, fmt.Errorf("%w: security byte %02X", ErrBadFrame, b[pos])
	}
	pos++

	return &frame{
		systemTitle:  b[2:headerSize],
		frameCounter: b[pos : pos+frameCounterSize],
		sealed:       b[pos+frameCounterSize : total],
	}, nil
}

// Decrypt authenticates and decrypts one complete frame and returns the
// plaintext telegram.
func (d *Decryptor) Decrypt(b []byte) ([]byte, error) {
	f, err := parseFrame(b)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, 0, systemTitleLength+frameCounterSize)
	iv = append(iv, f.systemTitle...)
	iv = append(iv, f.frameCounter...)

	plain, err := d.aead.Open(nil, iv, f.sealed, d.aad)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return plain, nil
}

// FrameAssembler cuts encrypted frames out of a byte stream, resyncing on
// the frame tag after garbage or a corrupt header.
type FrameAssembler struct {
	buf     []byte
	maxSize int
}

// NewFrameAssembler creates an assembler with the default buffer cap.
func NewFrameAssembler() *FrameAssembler {
	return &FrameAssembler{maxSize: DefaultMaxTelegramSize}
}

// Feed appends data and returns the frames it completed.
func (a *FrameAssembler) Feed(data []byte) [][]byte {
	a.buf = append(a.buf, data...)

	var frames [][]byte
	for {
		start := bytes.IndexByte(a.buf, frameTag)
		if start < 0 {
			a.buf = a.buf[:0]
			return frames
		}
		a.buf = a.buf[start:]

		total, err := frameLength(a.buf)
		if err != nil {
			a.buf = a.buf[1:]
			continue
		}
		if total == 0 || len(a.buf) < total {
			if len(a.buf) > a.maxSize {
				a.buf = a.buf[:0]
			}
			return frames
		}

		f := make([]byte, total)
		copy(f, a.buf[:total])
		a.buf = a.buf[total:]
		frames = append(frames, f)
	}
}
