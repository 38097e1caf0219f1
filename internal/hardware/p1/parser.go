package p1

import (
	"bytes"
	"fmt"
	"strconv"
)

// DefaultMaxTelegramSize caps the stream buffer. DSMR 5 telegrams with
// MBus channels stay well below 2 KiB.
const DefaultMaxTelegramSize = 8 * 1024

// Result is one telegram extracted from the stream, or the reason it was
// rejected.
type Result struct {
	Raw      []byte
	Telegram *Telegram
	Err      error
}

// Parser reassembles telegrams from a byte stream that may be split at
// arbitrary points.
//
// It is not safe for concurrent use.
type Parser struct {
	buf     []byte
	maxSize int
}

// NewParser creates a stream parser with the default buffer cap.
func NewParser() *Parser {
	return &Parser{maxSize: DefaultMaxTelegramSize}
}

// Reset drops any partial telegram.
func (p *Parser) Reset() {
	p.buf = p.buf[:0]
}

// Buffered returns the number of bytes waiting for a telegram end.
func (p *Parser) Buffered() int {
	return len(p.buf)
}

// Feed appends data and returns every telegram completed by it.
func (p *Parser) Feed(data []byte) []Result {
	p.buf = append(p.buf, data...)

	var results []Result
	for {
		start := bytes.IndexByte(p.buf, '/')
		if start < 0 {
			p.buf = p.buf[:0]
			return results
		}
		if start > 0 {
			p.buf = p.buf[start:]
		}

		end := bytes.IndexByte(p.buf, '!')
		if end < 0 {
			if r, overflow := p.checkOverflow(); overflow {
				results = append(results, r)
			}
			return results
		}

		// A second header before the end means the first telegram was
		// truncated; resync on the newer one.
		if next := bytes.IndexByte(p.buf[1:end], '/'); next >= 0 {
			p.buf = p.buf[next+1:]
			continue
		}

		nl := bytes.IndexByte(p.buf[end:], '\n')
		if nl < 0 {
			if r, overflow := p.checkOverflow(); overflow {
				results = append(results, r)
			}
			return results
		}
		nl += end

		raw := make([]byte, end+1)
		copy(raw, p.buf[:end+1])
		trailer := bytes.TrimSpace(p.buf[end+1 : nl])
		p.buf = p.buf[nl+1:]

		results = append(results, decode(raw, trailer))
	}
}

func (p *Parser) checkOverflow() (Result, bool) {
	if len(p.buf) <= p.maxSize {
		return Result{}, false
	}
	n := len(p.buf)
	p.buf = p.buf[:0]
	return Result{Err: fmt.Errorf("%w: %d bytes without telegram end", ErrBufferOverflow, n)}, true
}

// decode validates the optional checksum and parses the telegram.
func decode(raw, trailer []byte) Result {
	r := Result{Raw: raw}

	// DSMR 2.x and 3.x telegrams carry no checksum.
	if len(trailer) > 0 {
		if len(trailer) != 4 {
			r.Err = fmt.Errorf("%w: %q", ErrBadCRCField, trailer)
			return r
		}
		want, err := strconv.ParseUint(string(trailer), 16, 16)
		if err != nil {
			r.Err = fmt.Errorf("%w: %q", ErrBadCRCField, trailer)
			return r
		}
		if got := CRC16(raw); got != uint16(want) {
			r.Err = fmt.Errorf("%w: computed %04X, telegram says %04X", ErrCRCMismatch, got, want)
			return r
		}
	}

	r.Telegram, r.Err = ParseTelegram(raw)
	return r
}
