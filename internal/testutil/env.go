package testutil

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// ServerConfig returns configuration values for creating a test server.
// This avoids importing the server package directly.
type ServerConfig struct {
	Host       string
	Port       string
	HomeDir    string
	ConfigFile string
	Logger     *slog.Logger
}

// NewServerConfig creates configuration for a blob-only test server: an
// in-memory artifact store, postgres unmanaged and pointed at a closed port,
// and "mock" selected as the default provider on both slots. The mock entries
// in the config file keep manually registered mock providers alive across
// config reloads. The server binds port 0; read the bound address from Addr
// once it is listening.
func NewServerConfig(t *testing.T) ServerConfig {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	tempDir := t.TempDir()

	configFile := filepath.Join(tempDir, "config.yaml")
	if err := os.WriteFile(configFile, []byte(blobOnlyConfigYAML), 0o644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	return ServerConfig{
		Host:       "127.0.0.1",
		Port:       "0",
		HomeDir:    tempDir,
		ConfigFile: configFile,
		Logger:     logger,
	}
}

// blobOnlyConfigYAML is the hermetic test configuration. Port 1 is reserved
// and never listening, so the postgres connection fails fast and the server
// degrades to blob-only mode.
const blobOnlyConfigYAML = `server:
  host: 127.0.0.1
  port: "0"
postgres:
  host: 127.0.0.1
  port: "1"
  user: primer
  password: primer
  database: primer
  sslmode: disable
  managed: false
store:
  backend: memory
ocr_providers:
  mock:
    type: mock
    api_key: test
    rate_limit: 1000
    max_retries: 3
    enabled: true
llm_providers:
  mock:
    type: mock
    api_key: test
    enabled: true
defaults:
  ocr_provider: mock
  llm_provider: mock
  max_workers: 4
pipeline:
  flush_every: 2
  stale_after_seconds: 120
`

// WaitForListen polls addr until the listener reports a real port, then
// returns the server's base URL.
func WaitForListen(addr func() string, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		a := addr()
		if _, port, err := net.SplitHostPort(a); err == nil && port != "" && port != "0" {
			return "http://" + a, nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return "", fmt.Errorf("server did not start listening within %v", timeout)
}

// WaitForServer polls the /health endpoint until the server answers.
func WaitForServer(url string, timeout time.Duration) error {
	client := &http.Client{Timeout: 2 * time.Second}
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		resp, err := client.Get(url + "/health")
		if err == nil {
			var health struct {
				Status string `json:"status"`
			}
			decodeErr := json.NewDecoder(resp.Body).Decode(&health)
			resp.Body.Close()
			if decodeErr == nil && health.Status == "ok" {
				return nil
			}
		}
		time.Sleep(50 * time.Millisecond)
	}

	return fmt.Errorf("server not ready after %v", timeout)
}

// WaitForShutdown waits for a channel to receive a value or timeout.
func WaitForShutdown(done <-chan error, timeout time.Duration) error {
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for shutdown")
	}
}

// HTTPClient returns an HTTP client for making requests.
func HTTPClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

// FindFreePort finds an available TCP port and returns it as a string.
func FindFreePort() (string, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}
	defer listener.Close()
	return fmt.Sprintf("%d", listener.Addr().(*net.TCPAddr).Port), nil
}
