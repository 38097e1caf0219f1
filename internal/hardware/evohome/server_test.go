package evohome

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

const installationJSON = `[{
  "locationInfo": {"locationId": "loc1", "name": "Home", "timeZone": {"timeZoneId": "WEurope"}},
  "gateways": [{
    "gatewayInfo": {"gatewayId": "gw1"},
    "temperatureControlSystems": [{
      "systemId": "sys1",
      "modelType": "EvoTouch",
      "zones": [
        {"zoneId": "z1", "name": "Living", "zoneType": "RadiatorZone"},
        {"zoneId": "z2", "name": "Bedroom", "zoneType": "RadiatorZone"}
      ],
      "allowedSystemModes": [{"systemMode": "Auto"}, {"systemMode": "Away"}]
    }]
  }]
}]`

const statusJSON = `{
  "systemId": "sys1",
  "zones": [
    {"zoneId": "z1", "name": "Living",
     "temperatureStatus": {"temperature": 20.5, "isAvailable": true},
     "setpointStatus": {"targetHeatTemperature": 21.0, "setpointMode": "FollowSchedule"}},
    {"zoneId": "z2", "name": "Bedroom",
     "temperatureStatus": {"isAvailable": false},
     "setpointStatus": {"targetHeatTemperature": 16.0, "setpointMode": "PermanentOverride"}}
  ],
  "systemModeStatus": {"mode": "Away", "isPermanent": true}
}`

// fakeTCC emulates the parts of the TCC API the client uses.
type fakeTCC struct {
	*httptest.Server

	mu            sync.Mutex
	logins        int
	refreshes     int
	rejectNext    bool
	failStatus    int
	statusCalls   int
	lastSetpoint  heatSetpointRequest
	lastMode      systemModeRequest
	lastZone      string
	authorization []string
}

func newFakeTCC(t *testing.T) *fakeTCC {
	t.Helper()
	f := &fakeTCC{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+tokenPath, f.token)
	mux.HandleFunc("GET "+apiPath+"/userAccount", f.userAccount)
	mux.HandleFunc("GET "+apiPath+"/location/installationInfo", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("userId") != "u1" {
			http.Error(w, "bad user", http.StatusBadRequest)
			return
		}
		io.WriteString(w, installationJSON) //nolint:errcheck // Test server
	})
	mux.HandleFunc("GET "+apiPath+"/temperatureControlSystem/sys1/status", f.status)
	mux.HandleFunc("PUT "+apiPath+"/temperatureZone/{zone}/heatSetpoint", f.setpoint)
	mux.HandleFunc("PUT "+apiPath+"/temperatureControlSystem/sys1/mode", f.mode)

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeTCC) token(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != clientAuth {
		http.Error(w, "bad client", http.StatusUnauthorized)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	switch r.PostForm.Get("grant_type") {
	case "password":
		if r.PostForm.Get("Username") != "user@example.com" || r.PostForm.Get("Password") != "secret" {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
			return
		}
		f.logins++
	case "refresh_token":
		f.refreshes++
	}
	json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck // Test server
		"access_token":  "access-" + string(rune('a'+f.logins+f.refreshes)),
		"refresh_token": "refresh",
		"expires_in":    1800,
	})
}

func (f *fakeTCC) userAccount(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.authorization = append(f.authorization, r.Header.Get("Authorization"))
	reject := f.rejectNext
	f.rejectNext = false
	f.mu.Unlock()

	if reject {
		http.Error(w, "expired", http.StatusUnauthorized)
		return
	}
	io.WriteString(w, `{"userId":"u1","username":"user@example.com","firstname":"Ada"}`) //nolint:errcheck // Test server
}

func (f *fakeTCC) status(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	f.statusCalls++
	fail := f.failStatus
	if fail > 0 {
		f.failStatus--
	}
	f.mu.Unlock()

	if fail > 0 {
		http.Error(w, "busy", http.StatusServiceUnavailable)
		return
	}
	io.WriteString(w, statusJSON) //nolint:errcheck // Test server
}

func (f *fakeTCC) setpoint(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastZone = r.PathValue("zone")
	if err := json.NewDecoder(r.Body).Decode(&f.lastSetpoint); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}

func (f *fakeTCC) mode(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := json.NewDecoder(r.Body).Decode(&f.lastMode); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}

func (f *fakeTCC) counts() (logins, refreshes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logins, f.refreshes
}
