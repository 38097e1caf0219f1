package p1

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "000102030405060708090A0B0C0D0E0F"

// sealFrame builds an encrypted frame the way a meter does.
func sealFrame(t *testing.T, keyHex string, plain []byte, counter uint32) []byte {
	t.Helper()

	key, _ := hex.DecodeString(keyHex)
	authKey, _ := hex.DecodeString(DefaultAuthKey)
	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	aead, err := cipher.NewGCMWithTagSize(block, gcmTagSize)
	require.NoError(t, err)

	title := []byte("SAG\x10\x00\x00\x00\x01")
	fc := binary.BigEndian.AppendUint32(nil, counter)
	iv := append(append([]byte{}, title...), fc...)
	aad := append([]byte{securityByte}, authKey...)
	sealed := aead.Seal(nil, iv, plain, aad)

	payloadLen := 1 + len(fc) + len(sealed)
	frame := []byte{frameTag, systemTitleLength}
	frame = append(frame, title...)
	if payloadLen < 0x80 {
		frame = append(frame, byte(payloadLen))
	} else {
		frame = append(frame, longLengthMarker)
		frame = binary.BigEndian.AppendUint16(frame, uint16(payloadLen))
	}
	frame = append(frame, securityByte)
	frame = append(frame, fc...)
	return append(frame, sealed...)
}

func TestDecryptor_RoundTrip(t *testing.T) {
	d, err := NewDecryptor(testKey, "")
	require.NoError(t, err)

	telegram := readFixture(t, "dsmr50.txt")
	frame := sealFrame(t, testKey, telegram, 42)
	assert.Equal(t, byte(longLengthMarker), frame[headerSize])

	plain, err := d.Decrypt(frame)
	require.NoError(t, err)
	assert.Equal(t, telegram, plain)

	results := NewParser().Feed(plain)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
}

func TestDecryptor_ShortLength(t *testing.T) {
	d, err := NewDecryptor(testKey, DefaultAuthKey)
	require.NoError(t, err)

	frame := sealFrame(t, testKey, []byte("/X\r\n!\r\n"), 1)
	assert.Less(t, frame[headerSize], byte(0x80))

	plain, err := d.Decrypt(frame)
	require.NoError(t, err)
	assert.Equal(t, "/X\r\n!\r\n", string(plain))
}

func TestDecryptor_Errors(t *testing.T) {
	_, err := NewDecryptor("abcd", "")
	assert.ErrorIs(t, err, ErrBadKey)
	_, err = NewDecryptor("zz", "")
	assert.ErrorIs(t, err, ErrBadKey)

	d, err := NewDecryptor(testKey, "")
	require.NoError(t, err)

	frame := sealFrame(t, testKey, []byte("/X\r\n!\r\n"), 1)

	tampered := append([]byte{}, frame...)
	tampered[len(tampered)-1] ^= 0xFF
	_, err = d.Decrypt(tampered)
	assert.ErrorIs(t, err, ErrDecrypt)

	wrongKey := sealFrame(t, "0F0E0D0C0B0A09080706050403020100", []byte("/X\r\n!\r\n"), 1)
	_, err = d.Decrypt(wrongKey)
	assert.ErrorIs(t, err, ErrDecrypt)

	_, err = d.Decrypt(frame[:len(frame)-3])
	assert.ErrorIs(t, err, ErrShortFrame)

	badTag := append([]byte{}, frame...)
	badTag[0] = 0xDC
	_, err = d.Decrypt(badTag)
	assert.ErrorIs(t, err, ErrBadFrame)

	badSecurity := append([]byte{}, frame...)
	badSecurity[headerSize+1] = 0x10
	_, err = d.Decrypt(badSecurity)
	assert.ErrorIs(t, err, ErrBadFrame)
}

func TestFrameAssembler(t *testing.T) {
	f1 := sealFrame(t, testKey, []byte("/A\r\n!\r\n"), 1)
	f2 := sealFrame(t, testKey, readFixture(t, "dsmr50.txt"), 2)

	a := NewFrameAssembler()
	stream := append([]byte{0x00, 0x11}, f1...)
	stream = append(stream, f2...)

	var frames [][]byte
	for i := 0; i < len(stream); i += 13 {
		frames = append(frames, a.Feed(stream[i:min(i+13, len(stream))])...)
	}
	require.Len(t, frames, 2)
	assert.Equal(t, f1, frames[0])
	assert.Equal(t, f2, frames[1])

	// A tag byte followed by a bad title length is skipped.
	frames = a.Feed(append([]byte{frameTag, 0x05, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09}, f1...))
	require.Len(t, frames, 1)
	assert.Equal(t, f1, frames[0])
}
