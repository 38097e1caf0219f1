package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/oikomaticz/oikomaticz-core/internal/hardware"
	"github.com/oikomaticz/oikomaticz-core/internal/infrastructure/config"
)

const testJWTSecret = "test-secret-for-development-only-32b"

// writeConfig writes a config with MQTT and InfluxDB disabled and returns
// its path. dbPath may be empty to produce an invalid config.
func writeConfig(t *testing.T, dbPath string, port int) string {
	t.Helper()
	return writeConfigWithHardware(t, dbPath, port, "")
}

// writeConfigWithHardware is writeConfig with a raw hardware section appended.
func writeConfigWithHardware(t *testing.T, dbPath string, port int, hardwareYAML string) string {
	t.Helper()

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	content := `
site:
  id: test-site

database:
  path: "` + dbPath + `"
  wal_mode: true
  busy_timeout: 5

mqtt:
  enabled: false

influxdb:
  enabled: false

logging:
  level: warn
  format: text
  output: stdout

api:
  host: "127.0.0.1"
  port: ` + strconv.Itoa(port) + `

security:
  jwt:
    secret: "` + testJWTSecret + `"
  admin_password: "first-boot-password"
` + hardwareYAML
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

// freePort asks the kernel for an unused TCP port.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("OIKOMATICZ_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_MissingDatabasePath verifies run fails validation before opening anything.
func TestRun_MissingDatabasePath(t *testing.T) {
	t.Setenv("OIKOMATICZ_CONFIG", writeConfig(t, "", 8080))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil || !strings.Contains(err.Error(), "database.path") {
		t.Fatalf("run() error = %v, want database.path validation error", err)
	}
}

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("OIKOMATICZ_CONFIG", "")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv("OIKOMATICZ_CONFIG", expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

func TestNewFactory_RegistersAllAdapters(t *testing.T) {
	factory, err := newFactory()
	if err != nil {
		t.Fatalf("newFactory() error = %v", err)
	}
	want := []string{"apsystems", "evohome", "harmony", "lyric", "modbusmeter", "p1", "tuya"}
	got := factory.Types()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Types() = %v, want %v", got, want)
	}
}

func TestNotifyTransports(t *testing.T) {
	if got := notifyTransports(config.NotificationsConfig{}); len(got) != 0 {
		t.Errorf("no transports enabled, got %d", len(got))
	}

	got := notifyTransports(config.NotificationsConfig{
		Pushover: config.PushoverConfig{Enabled: true, Token: "t", User: "u"},
		Webhook:  config.WebhookConfig{Enabled: true, URL: "http://127.0.0.1/hook"},
	})
	if len(got) != 2 {
		t.Fatalf("got %d transports, want 2", len(got))
	}
}

// startHub runs the hub in the background and waits for /health. It returns
// the API base URL, a cancel func and the channel run's result arrives on.
func startHub(t *testing.T, hardwareYAML string) (string, context.CancelFunc, <-chan error) {
	t.Helper()

	port := freePort(t)
	dbPath := filepath.Join(t.TempDir(), "test.db")
	t.Setenv("OIKOMATICZ_CONFIG", writeConfigWithHardware(t, dbPath, port, hardwareYAML))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	errCh := make(chan error, 1)
	go func() { errCh <- run(ctx) }()

	base := "http://127.0.0.1:" + strconv.Itoa(port)
	deadline := time.Now().Add(10 * time.Second)
	for {
		resp, err := http.Get(base + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return base, cancel, errCh
			}
		}
		select {
		case err := <-errCh:
			t.Fatalf("run() exited early: %v", err)
		default:
		}
		if time.Now().After(deadline) {
			t.Fatal("API did not become healthy")
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// login returns an access token for the seeded admin.
func login(t *testing.T, base string) string {
	t.Helper()

	resp, err := http.Post(base+"/api/v1/auth/login", "application/json",
		strings.NewReader(`{"username":"admin","password":"first-boot-password"}`))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin login status = %d, want 200", resp.StatusCode)
	}
	var pair struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&pair); err != nil {
		t.Fatalf("decoding login response: %v", err)
	}
	return pair.AccessToken
}

func waitShutdown(t *testing.T, cancel context.CancelFunc, errCh <-chan error) {
	t.Helper()

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("run() error on shutdown = %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("run() did not return after cancel")
	}
}

// TestRun_StartupAndShutdown boots the hub without external brokers, logs
// in as the seeded admin and shuts down on cancel.
func TestRun_StartupAndShutdown(t *testing.T) {
	if testing.Short() {
		t.Skip("starts the full hub")
	}

	base, cancel, errCh := startHub(t, "")
	if token := login(t, base); token == "" {
		t.Error("login returned an empty access token")
	}
	waitShutdown(t, cancel, errCh)
}

// TestRun_MisconfiguredHardwareKeepsRunning boots with a p1 entry that has
// neither serial port nor address. The hub starts and reports it as failed.
func TestRun_MisconfiguredHardwareKeepsRunning(t *testing.T) {
	if testing.Short() {
		t.Skip("starts the full hub")
	}

	base, cancel, errCh := startHub(t, `
hardware:
  - id: 1
    name: Meter
    type: p1
    enabled: true
`)
	token := login(t, base)

	req, err := http.NewRequest(http.MethodGet, base+"/api/v1/hardware/1", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET hardware: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET hardware status = %d, want 200", resp.StatusCode)
	}
	var info hardware.Info
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		t.Fatalf("decoding hardware: %v", err)
	}
	if info.Status != hardware.StatusFailed || info.Error == "" {
		t.Errorf("hardware = status %q error %q, want failed with error", info.Status, info.Error)
	}

	waitShutdown(t, cancel, errCh)
}
