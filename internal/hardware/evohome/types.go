package evohome

import (
	"fmt"
	"time"
)

// SystemMode is the operating mode of a temperature control system.
type SystemMode string

// System modes.
const (
	ModeAuto        SystemMode = "Auto"
	ModeAutoWithEco SystemMode = "AutoWithEco"
	ModeAway        SystemMode = "Away"
	ModeDayOff      SystemMode = "DayOff"
	ModeHeatingOff  SystemMode = "HeatingOff"
	ModeCustom      SystemMode = "Custom"
)

// Modes lists the system modes in selector order.
var Modes = []SystemMode{ModeAuto, ModeAutoWithEco, ModeAway, ModeDayOff, ModeHeatingOff, ModeCustom}

// ParseMode validates a mode name.
func ParseMode(s string) (SystemMode, error) {
	for _, m := range Modes {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// Setpoint modes.
const (
	SetpointFollowSchedule    = "FollowSchedule"
	SetpointPermanentOverride = "PermanentOverride"
	SetpointTemporaryOverride = "TemporaryOverride"
)

// Token is an OAuth access token.
type Token struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int       `json:"expires_in"`
	Expiry       time.Time `json:"-"`
}

// UserAccount is the authenticated user.
type UserAccount struct {
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
	Country   string `json:"country"`
}

// Installation is one location with its gateways.
type Installation struct {
	LocationInfo struct {
		LocationID string `json:"locationId"`
		Name       string `json:"name"`
		TimeZone   struct {
			TimeZoneID string `json:"timeZoneId"`
		} `json:"timeZone"`
	} `json:"locationInfo"`
	Gateways []Gateway `json:"gateways"`
}

// Gateway connects the controllers of a location.
type Gateway struct {
	GatewayInfo struct {
		GatewayID string `json:"gatewayId"`
	} `json:"gatewayInfo"`
	TemperatureControlSystems []ControlSystem `json:"temperatureControlSystems"`
}

// ControlSystem is the configuration of one temperature control system.
type ControlSystem struct {
	SystemID           string     `json:"systemId"`
	ModelType          string     `json:"modelType"`
	Zones              []ZoneInfo `json:"zones"`
	AllowedSystemModes []struct {
		SystemMode string `json:"systemMode"`
	} `json:"allowedSystemModes"`
}

// ZoneInfo is the configuration of one heating zone.
type ZoneInfo struct {
	ZoneID   string `json:"zoneId"`
	Name     string `json:"name"`
	ZoneType string `json:"zoneType"`
}

// SystemStatus is the live state of a temperature control system.
type SystemStatus struct {
	SystemID         string       `json:"systemId"`
	Zones            []ZoneStatus `json:"zones"`
	SystemModeStatus struct {
		Mode        SystemMode `json:"mode"`
		IsPermanent bool       `json:"isPermanent"`
		TimeUntil   string     `json:"timeUntil,omitempty"`
	} `json:"systemModeStatus"`
}

// ZoneStatus is the live state of one zone.
type ZoneStatus struct {
	ZoneID            string `json:"zoneId"`
	Name              string `json:"name"`
	TemperatureStatus struct {
		Temperature float64 `json:"temperature"`
		IsAvailable bool    `json:"isAvailable"`
	} `json:"temperatureStatus"`
	SetpointStatus struct {
		TargetHeatTemperature float64 `json:"targetHeatTemperature"`
		SetpointMode          string  `json:"setpointMode"`
		Until                 string  `json:"until,omitempty"`
	} `json:"setpointStatus"`
}

type heatSetpointRequest struct {
	HeatSetpointValue float64 `json:"HeatSetpointValue"`
	SetpointMode      string  `json:"SetpointMode"`
	TimeUntil         string  `json:"TimeUntil,omitempty"`
}

type systemModeRequest struct {
	SystemMode SystemMode `json:"SystemMode"`
	TimeUntil  string     `json:"TimeUntil,omitempty"`
	Permanent  bool       `json:"Permanent"`
}
