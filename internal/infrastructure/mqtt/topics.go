package mqtt

import (
	"strconv"
	"strings"
)

// DefaultBaseTopic is the topic root used when none is configured.
const DefaultBaseTopic = "oikomaticz"

// Topics builds the hub's MQTT topics under a base topic.
//
// The layout is the one Domoticz integrations expect:
//
//	<base>/out        every device change
//	<base>/out/<idx>  changes of one device
//	<base>/in         inbound commands
//	<base>/status     online/offline (retained, also the LWT)
type Topics struct {
	Base string
}

// NewTopics returns topic builders for base, trimming any trailing slash.
func NewTopics(base string) Topics {
	base = strings.TrimRight(base, "/")
	if base == "" {
		base = DefaultBaseTopic
	}
	return Topics{Base: base}
}

// Out returns the topic every device change is published to.
func (t Topics) Out() string { return t.Base + "/out" }

// OutDevice returns the per-device change topic.
func (t Topics) OutDevice(idx int64) string {
	return t.Base + "/out/" + strconv.FormatInt(idx, 10)
}

// In returns the inbound command topic.
func (t Topics) In() string { return t.Base + "/in" }

// Status returns the retained hub status topic.
func (t Topics) Status() string { return t.Base + "/status" }

// AllOut matches every device change topic.
func (t Topics) AllOut() string { return t.Base + "/out/#" }
