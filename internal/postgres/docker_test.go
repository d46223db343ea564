package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/tutorkit/primer/internal/testutil"
)

func TestNewDockerManagerDefaults(t *testing.T) {
	mgr, err := NewDockerManager(DockerConfig{})
	if err != nil {
		t.Fatalf("NewDockerManager: %v", err)
	}
	defer mgr.Close()

	if mgr.containerName != DefaultContainerName {
		t.Errorf("container name = %q, want %q", mgr.containerName, DefaultContainerName)
	}
	if mgr.imageName != DefaultImage {
		t.Errorf("image = %q, want %q", mgr.imageName, DefaultImage)
	}
	if mgr.conn.Port != DefaultPort {
		t.Errorf("port = %q, want %q", mgr.conn.Port, DefaultPort)
	}
	if mgr.labels[Label] != "true" {
		t.Errorf("labels missing %s marker: %v", Label, mgr.labels)
	}
}

func TestNewDockerManagerExplicitConfig(t *testing.T) {
	mgr, err := NewDockerManager(DockerConfig{
		ContainerName: "custom-pg",
		Image:         "postgres:15-alpine",
		Conn:          Config{Port: "5544", Database: "custom"},
		Labels:        map[string]string{"extra": "label"},
	})
	if err != nil {
		t.Fatalf("NewDockerManager: %v", err)
	}
	defer mgr.Close()

	if mgr.containerName != "custom-pg" {
		t.Errorf("container name = %q, want custom-pg", mgr.containerName)
	}
	if mgr.imageName != "postgres:15-alpine" {
		t.Errorf("image = %q, want postgres:15-alpine", mgr.imageName)
	}
	if mgr.conn.Database != "custom" {
		t.Errorf("database = %q, want custom", mgr.conn.Database)
	}
	// Conn defaults still fill the unset fields.
	if mgr.conn.User != DefaultUser {
		t.Errorf("user = %q, want %q", mgr.conn.User, DefaultUser)
	}
	if mgr.labels["extra"] != "label" || mgr.labels[Label] != "true" {
		t.Errorf("labels = %v, want extra and %s markers", mgr.labels, Label)
	}
}

// dockerManager provisions a postgres container on a free port. Gated behind
// PRIMER_TEST_DOCKER so the suite stays green without a Docker daemon.
func dockerManager(t *testing.T) *DockerManager {
	t.Helper()
	if os.Getenv("PRIMER_TEST_DOCKER") == "" {
		t.Skip("PRIMER_TEST_DOCKER not set; skipping docker-backed tests")
	}

	_ = testutil.DockerClient(t)

	port, err := testutil.FindFreePort()
	if err != nil {
		t.Fatalf("FindFreePort: %v", err)
	}

	mgr, err := NewDockerManager(DockerConfig{
		ContainerName: testutil.UniqueContainerName(t, "pg"),
		Conn:          Config{Port: port},
		Labels:        testutil.ContainerLabels(t),
	})
	if err != nil {
		t.Fatalf("NewDockerManager: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		_ = mgr.Remove(ctx)
		mgr.Close()
	})
	return mgr
}

func TestDockerManagerLifecycle(t *testing.T) {
	mgr := dockerManager(t)
	ctx := context.Background()

	status, err := mgr.Status(ctx)
	if err != nil {
		t.Fatalf("Status before start: %v", err)
	}
	if status != StatusNotFound {
		t.Fatalf("status before start = %s, want %s", status, StatusNotFound)
	}

	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	status, err = mgr.Status(ctx)
	if err != nil {
		t.Fatalf("Status after start: %v", err)
	}
	if status != StatusRunning {
		t.Fatalf("status after start = %s, want %s", status, StatusRunning)
	}

	// Starting a running container is a no-op.
	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("Start on running container: %v", err)
	}

	// The instance accepts connections and takes migrations.
	if err := Migrate(ctx, mgr.DSN(), nil); err != nil {
		t.Fatalf("Migrate against managed instance: %v", err)
	}
	pool, err := Connect(ctx, Config{Port: mgr.conn.Port}, nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	pool.Close()

	if err := mgr.ValidateExisting(ctx); err != nil {
		t.Errorf("ValidateExisting on matching container: %v", err)
	}

	if err := mgr.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	status, err = mgr.Status(ctx)
	if err != nil {
		t.Fatalf("Status after stop: %v", err)
	}
	if status != StatusStopped {
		t.Fatalf("status after stop = %s, want %s", status, StatusStopped)
	}

	// Start brings a stopped container back without recreating it.
	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if err := mgr.WaitReady(ctx, 30*time.Second); err != nil {
		t.Fatalf("WaitReady after restart: %v", err)
	}

	logs, err := mgr.Logs(ctx, "50")
	if err != nil {
		t.Fatalf("Logs: %v", err)
	}
	if logs == "" {
		t.Error("Logs returned empty output from a running instance")
	}

	if err := mgr.Remove(ctx); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	status, err = mgr.Status(ctx)
	if err != nil {
		t.Fatalf("Status after remove: %v", err)
	}
	if status != StatusNotFound {
		t.Fatalf("status after remove = %s, want %s", status, StatusNotFound)
	}
}

func TestDockerManagerValidateExistingPortMismatch(t *testing.T) {
	mgr := dockerManager(t)
	ctx := context.Background()

	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	otherPort, err := testutil.FindFreePort()
	if err != nil {
		t.Fatalf("FindFreePort: %v", err)
	}
	other, err := NewDockerManager(DockerConfig{
		ContainerName: mgr.containerName,
		Conn:          Config{Port: otherPort},
		Labels:        mgr.labels,
	})
	if err != nil {
		t.Fatalf("NewDockerManager: %v", err)
	}
	defer other.Close()

	if err := other.ValidateExisting(ctx); err == nil {
		t.Error("ValidateExisting accepted a container bound to a different port")
	}
}
