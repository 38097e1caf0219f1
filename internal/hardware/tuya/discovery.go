package tuya

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
)

// Discovery ports. Version 3.1 devices broadcast in plain text on the
// first, 3.3 devices broadcast encrypted with udpKey on the second.
const (
	DiscoveryPortPlain     = 6666
	DiscoveryPortEncrypted = 6667
)

// Announcement is a decoded discovery broadcast.
type Announcement struct {
	GwID       string `json:"gwId"`
	IP         string `json:"ip"`
	ProductKey string `json:"productKey"`
	Version    string `json:"version"`
	Encrypted  bool   `json:"encrypt"`
}

// DecodeAnnouncement decodes one discovery datagram.
func DecodeAnnouncement(b []byte) (Announcement, error) {
	f, _, err := DecodeFrame(b)
	if err != nil {
		return Announcement{}, err
	}
	if f.Cmd != CmdUDP && f.Cmd != CmdUDPNew && f.Cmd != CmdBroadcast {
		return Announcement{}, fmt.Errorf("unexpected discovery command 0x%02X", f.Cmd)
	}

	plain := f.Payload
	if len(plain) > 0 && plain[0] != '{' {
		plain, err = decryptECB(udpKey, plain)
		if err != nil {
			return Announcement{}, fmt.Errorf("decrypting announcement: %w", err)
		}
	}

	var a Announcement
	if err := json.Unmarshal(plain, &a); err != nil {
		return Announcement{}, fmt.Errorf("parsing announcement: %w", err)
	}
	if a.GwID == "" {
		return Announcement{}, errors.New("announcement without gwId")
	}
	return a, nil
}

// Listen receives announcements on a UDP address until ctx is done.
// Undecodable datagrams are skipped.
func Listen(ctx context.Context, addr string, fn func(Announcement)) error {
	var lc net.ListenConfig
	pc, err := lc.ListenPacket(ctx, "udp4", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	stop := context.AfterFunc(ctx, func() { pc.Close() })
	defer stop()
	defer pc.Close() //nolint:errcheck // Closed on exit

	buf := make([]byte, 2048)
	for {
		n, _, err := pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("reading discovery: %w", err)
		}
		if a, err := DecodeAnnouncement(buf[:n]); err == nil {
			fn(a)
		}
	}
}
