package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/oikomaticz/oikomaticz-core/internal/audit"
	"github.com/oikomaticz/oikomaticz-core/internal/auth"
	"github.com/oikomaticz/oikomaticz-core/internal/device"
	"github.com/oikomaticz/oikomaticz-core/internal/eventsystem"
	"github.com/oikomaticz/oikomaticz-core/internal/hardware"
	"github.com/oikomaticz/oikomaticz-core/internal/infrastructure/config"
	"github.com/oikomaticz/oikomaticz-core/internal/infrastructure/logging"
	"github.com/oikomaticz/oikomaticz-core/internal/mainworker"
	"github.com/oikomaticz/oikomaticz-core/internal/notify"
	"github.com/oikomaticz/oikomaticz-core/internal/rx"
)

const testSecret = "api-test-secret-at-least-32-bytes!!"

// ─── Mock Dependencies ─────────────────────────────────────────────

type fakeAuth struct {
	mu    sync.Mutex
	users map[string]*auth.User // by username
	pass  map[string]string
}

func newFakeAuth() *fakeAuth {
	a := &fakeAuth{users: map[string]*auth.User{}, pass: map[string]string{}}
	for _, u := range []auth.User{
		{ID: "u-admin", Username: "admin", Role: auth.RoleAdmin, IsActive: true},
		{ID: "u-user", Username: "user", Role: auth.RoleUser, IsActive: true},
		{ID: "u-viewer", Username: "viewer", Role: auth.RoleViewer, IsActive: true},
	} {
		a.users[u.Username] = &u
		a.pass[u.Username] = "password123"
	}
	return a
}

func (a *fakeAuth) Login(_ context.Context, username, password string) (*auth.TokenPair, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	u, ok := a.users[username]
	if !ok || a.pass[username] != password {
		return nil, auth.ErrInvalidCredentials
	}
	access, exp, err := auth.IssueAccessToken(u, testSecret, time.Minute, time.Now())
	if err != nil {
		return nil, err
	}
	return &auth.TokenPair{AccessToken: access, RefreshToken: "refresh-" + u.ID, TokenType: "Bearer", ExpiresAt: exp, User: u}, nil
}

func (a *fakeAuth) Refresh(_ context.Context, raw string) (*auth.TokenPair, error) {
	if raw != "refresh-u-user" {
		return nil, auth.ErrTokenInvalid
	}
	return &auth.TokenPair{AccessToken: "new", RefreshToken: "refresh-u-user-2", TokenType: "Bearer"}, nil
}

func (a *fakeAuth) Logout(context.Context, string) error { return nil }

func (a *fakeAuth) Authenticate(token string) (*auth.Claims, error) {
	return auth.ParseAccessToken(token, testSecret)
}

func (a *fakeAuth) ListUsers(context.Context) ([]auth.User, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	users := make([]auth.User, 0, len(a.users))
	for _, u := range a.users {
		users = append(users, *u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

func (a *fakeAuth) CreateUser(_ context.Context, username, displayName, password string, role auth.Role) (*auth.User, error) {
	if err := auth.ValidatePassword(password); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.users[username]; ok {
		return nil, auth.ErrUsernameExists
	}
	u := &auth.User{ID: "u-" + username, Username: username, DisplayName: displayName, Role: role, IsActive: true}
	a.users[username] = u
	a.pass[username] = password
	return u, nil
}

func (a *fakeAuth) UpdateUser(_ context.Context, id, displayName string, role auth.Role, active bool) (*auth.User, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, u := range a.users {
		if u.ID == id {
			u.DisplayName, u.Role, u.IsActive = displayName, role, active
			return u, nil
		}
	}
	return nil, auth.ErrUserNotFound
}

func (a *fakeAuth) ChangePassword(context.Context, string, string) error { return nil }

func (a *fakeAuth) DeleteUser(_ context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for name, u := range a.users {
		if u.ID == id {
			delete(a.users, name)
			return nil
		}
	}
	return auth.ErrUserNotFound
}

type fakeDevices struct {
	mu      sync.Mutex
	devices map[int64]*device.Device
}

func (f *fakeDevices) List(_ context.Context, filter device.Filter) []device.Device {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []device.Device
	for _, d := range f.devices {
		if filter.UsedOnly && !d.Used {
			continue
		}
		if filter.HardwareID != 0 && d.HardwareID != filter.HardwareID {
			continue
		}
		out = append(out, *d.DeepCopy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Idx < out[j].Idx })
	return out
}

func (f *fakeDevices) Get(_ context.Context, idx int64) (*device.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.devices[idx]
	if !ok {
		return nil, device.ErrDeviceNotFound
	}
	return d.DeepCopy(), nil
}

func (f *fakeDevices) Update(_ context.Context, d *device.Device) error {
	if d.Name == "" {
		return device.ErrInvalidName
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.devices[d.Idx]; !ok {
		return device.ErrDeviceNotFound
	}
	f.devices[d.Idx] = d.DeepCopy()
	return nil
}

type fakeHistory struct{}

func (fakeHistory) Range(_ context.Context, idx int64, _, _ time.Time, _ int) ([]device.Sample, error) {
	return []device.Sample{{ID: 1, DeviceIdx: idx, SValue: "21.5"}}, nil
}

type fakeWorker struct {
	mu       sync.Mutex
	commands []rx.Command
	updates  []string
	err      error
}

func (f *fakeWorker) SendCommand(_ context.Context, idx int64, cmd rx.Command) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd.Device.Idx = idx
	f.commands = append(f.commands, cmd)
	return nil
}

func (f *fakeWorker) UpdateDevice(_ int64, _ int, svalue string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, svalue)
	return nil
}

func (f *fakeWorker) Stats() mainworker.Stats {
	return mainworker.Stats{Processed: 42, QueueCapacity: 100}
}

type fakeHardware struct {
	restarted []int
}

func (f *fakeHardware) List() []hardware.Info {
	return []hardware.Info{
		{ID: 1, Name: "P1", Type: "p1", Enabled: true, Status: hardware.StatusRunning},
		{ID: 2, Name: "Evohome", Type: "evohome", Enabled: true, Status: hardware.StatusTimeout},
	}
}

func (f *fakeHardware) Get(id int) (hardware.Info, error) {
	for _, info := range f.List() {
		if info.ID == id {
			return info, nil
		}
	}
	return hardware.Info{}, hardware.ErrHardwareNotFound
}

func (f *fakeHardware) Restart(id int) error {
	if _, err := f.Get(id); err != nil {
		return err
	}
	f.restarted = append(f.restarted, id)
	return nil
}

type fakeRules struct {
	mu    sync.Mutex
	rules map[string]*eventsystem.Rule
	next  int
}

func (f *fakeRules) ListRules(context.Context) []eventsystem.Rule {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []eventsystem.Rule{}
	for _, r := range f.rules {
		out = append(out, *r.DeepCopy())
	}
	return out
}

func (f *fakeRules) GetRule(_ context.Context, id string) (*eventsystem.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rules[id]
	if !ok {
		return nil, eventsystem.ErrRuleNotFound
	}
	return r.DeepCopy(), nil
}

func (f *fakeRules) CreateRule(_ context.Context, rule *eventsystem.Rule) error {
	if err := eventsystem.ValidateRule(rule); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	rule.ID = "rule-" + string(rune('0'+f.next))
	f.rules[rule.ID] = rule.DeepCopy()
	return nil
}

func (f *fakeRules) UpdateRule(_ context.Context, rule *eventsystem.Rule) error {
	if err := eventsystem.ValidateRule(rule); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules[rule.ID] = rule.DeepCopy()
	return nil
}

func (f *fakeRules) DeleteRule(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rules[id]; !ok {
		return eventsystem.ErrRuleNotFound
	}
	delete(f.rules, id)
	return nil
}

func (f *fakeRules) Trigger(ctx context.Context, id string) (string, error) {
	rule, err := f.GetRule(ctx, id)
	if err != nil {
		return "", err
	}
	if !rule.Enabled {
		return "", eventsystem.ErrRuleDisabled
	}
	return "exec-1", nil
}

func (f *fakeRules) ListExecutions(context.Context, string, int) ([]eventsystem.Execution, error) {
	return nil, nil
}

type fakeNotifications struct {
	mu         sync.Mutex
	sent       []notify.Message
	thresholds []notify.Threshold
	err        error
}

func (f *fakeNotifications) Send(_ context.Context, msg notify.Message) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeNotifications) Recent(context.Context, int) ([]notify.Record, error) {
	return []notify.Record{{ID: 1, Subject: "hello"}}, nil
}

func (f *fakeNotifications) Thresholds() []notify.Threshold {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notify.Threshold(nil), f.thresholds...)
}

func (f *fakeNotifications) AddThreshold(_ context.Context, t *notify.Threshold) error {
	if err := t.Validate(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t.ID = int64(len(f.thresholds) + 1)
	f.thresholds = append(f.thresholds, *t)
	return nil
}

func (f *fakeNotifications) RemoveThreshold(context.Context, int64) error {
	return notify.ErrThresholdNotFound
}

type fakeEvents struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (f *fakeEvents) Record(_ context.Context, e *audit.Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, *e)
}

func (f *fakeEvents) List(_ context.Context, filter audit.Filter) (*audit.ListResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []audit.Entry{}
	for _, e := range f.entries {
		if filter.Action == "" || e.Action == filter.Action {
			out = append(out, e)
		}
	}
	return &audit.ListResult{Entries: out, Total: len(out), Limit: filter.Limit}, nil
}

func (f *fakeEvents) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.entries {
		out = append(out, e.Action+":"+e.EntityType)
	}
	return out
}

// ─── Harness ───────────────────────────────────────────────────────

type testEnv struct {
	server  *Server
	handler http.Handler
	auth    *fakeAuth
	devices *fakeDevices
	worker  *fakeWorker
	hw      *fakeHardware
	rules   *fakeRules
	notify  *fakeNotifications
	events  *fakeEvents
}

func newTestEnv(t *testing.T, mutate func(*Deps)) *testEnv {
	t.Helper()

	env := &testEnv{
		auth: newFakeAuth(),
		devices: &fakeDevices{devices: map[int64]*device.Device{
			1: {Idx: 1, Identity: device.Identity{HardwareID: 1, DeviceID: "sw1", Unit: 1, Type: device.TypeGeneralSwitch, SubType: device.SubTypeSwitch}, Name: "Lamp", Used: true},
			2: {Idx: 2, Identity: device.Identity{HardwareID: 2, DeviceID: "t1", Unit: 1, Type: device.TypeTemp, SubType: device.SubTypeDefault}, Name: "Living", SValue: "21.5"},
		}},
		worker: &fakeWorker{},
		hw:     &fakeHardware{},
		rules:  &fakeRules{rules: map[string]*eventsystem.Rule{}},
		notify: &fakeNotifications{},
		events: &fakeEvents{},
	}

	deps := Deps{
		Logger:        logging.NewWithWriter(io.Discard, config.LoggingConfig{Level: "error"}, "test"),
		Version:       "test",
		RateLimit:     config.RateLimitConfig{Enabled: true, RequestsPerMinute: 5},
		Auth:          env.auth,
		Devices:       env.devices,
		History:       fakeHistory{},
		Worker:        env.worker,
		Hardware:      env.hw,
		Rules:         env.rules,
		Runner:        env.rules,
		Executions:    env.rules,
		Notifications: env.notify,
		EventLog:      env.events,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			io.WriteString(w, "# metrics\n") //nolint:errcheck // Test handler
		}),
	}
	if mutate != nil {
		mutate(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	env.server = srv
	env.handler = srv.Handler()
	return env
}

// token logs in as username and returns the access token.
func (e *testEnv) token(t *testing.T, username string) string {
	t.Helper()
	pair, err := e.auth.Login(context.Background(), username, "password123")
	if err != nil {
		t.Fatalf("login %s: %v", username, err)
	}
	return pair.AccessToken
}

// do sends a request through the router. body may be nil.
func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
	return v
}

var errBoom = errors.New("boom")
