package tuya

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// Frame markers.
const (
	framePrefix uint32 = 0x000055AA
	frameSuffix uint32 = 0x0000AA55

	// headerSize is prefix, sequence, command and length.
	headerSize = 16
	// trailerSize is CRC and suffix.
	trailerSize = 8
)

// Command codes.
const (
	CmdControl   uint32 = 7
	CmdStatus    uint32 = 8
	CmdHeartBeat uint32 = 9
	CmdDPQuery   uint32 = 10
	CmdUDP       uint32 = 0x12
	CmdUDPNew    uint32 = 0x13
	CmdBroadcast uint32 = 0x23
)

// Frame is one decoded protocol frame.
type Frame struct {
	Seq uint32
	Cmd uint32

	// RetCode is set on frames sent by a device.
	RetCode    uint32
	HasRetCode bool

	Payload []byte
}

// EncodeFrame builds a client frame around payload.
func EncodeFrame(seq, cmd uint32, payload []byte) []byte {
	b := make([]byte, 0, headerSize+len(payload)+trailerSize)
	b = binary.BigEndian.AppendUint32(b, framePrefix)
	b = binary.BigEndian.AppendUint32(b, seq)
	b = binary.BigEndian.AppendUint32(b, cmd)
	b = binary.BigEndian.AppendUint32(b, uint32(len(payload)+trailerSize))
	b = append(b, payload...)
	b = binary.BigEndian.AppendUint32(b, crc32.ChecksumIEEE(b))
	return binary.BigEndian.AppendUint32(b, frameSuffix)
}

// FrameSize returns the total size of the frame at the start of b, or 0
// when the header is incomplete.
func FrameSize(b []byte) (int, error) {
	if len(b) < headerSize {
		return 0, nil
	}
	if binary.BigEndian.Uint32(b) != framePrefix {
		return 0, ErrBadPrefix
	}
	n := binary.BigEndian.Uint32(b[12:16])
	if n < trailerSize || n > maxFrameSize {
		return 0, fmt.Errorf("%w: length %d", ErrShortFrame, n)
	}
	return headerSize + int(n), nil
}

// maxFrameSize bounds the length field so a corrupt header cannot make the
// reader wait for megabytes.
const maxFrameSize = 64 * 1024

// DecodeFrame decodes the frame at the start of b and returns it with the
// number of bytes consumed.
func DecodeFrame(b []byte) (Frame, int, error) {
	size, err := FrameSize(b)
	if err != nil {
		return Frame{}, 0, err
	}
	if size == 0 || len(b) < size {
		return Frame{}, 0, ErrShortFrame
	}

	if binary.BigEndian.Uint32(b[size-4:size]) != frameSuffix {
		return Frame{}, 0, ErrBadSuffix
	}
	want := binary.BigEndian.Uint32(b[size-8 : size-4])
	if got := crc32.ChecksumIEEE(b[:size-8]); got != want {
		return Frame{}, 0, fmt.Errorf("%w: computed %08X, frame says %08X", ErrBadCRC, got, want)
	}

	f := Frame{
		Seq: binary.BigEndian.Uint32(b[4:8]),
		Cmd: binary.BigEndian.Uint32(b[8:12]),
	}
	payload := b[headerSize : size-trailerSize]

	// Device frames start with a 4 byte return code. Its upper bytes are
	// always zero, which never happens for a version header or JSON.
	if len(payload) >= 4 && binary.BigEndian.Uint32(payload)&0xFFFFFF00 == 0 {
		f.RetCode = binary.BigEndian.Uint32(payload)
		f.HasRetCode = true
		payload = payload[4:]
	}
	f.Payload = append([]byte(nil), payload...)
	return f, size, nil
}
