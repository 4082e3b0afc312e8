package pool

import (
	"context"
	"io"
	"log/slog"
	"os"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hostbridge/hostbridge/internal/config"
)

func processTestConfig(command string) *config.AppConfig {
	path := command
	args := ""
	if i := strings.Index(command, " "); i >= 0 {
		path, args = command[:i], command[i+1:]
	}
	return &config.AppConfig{
		Name:                "test",
		ProcessPath:         path,
		Arguments:           args,
		ProcessesPerApp:     1,
		RapidFailsPerMinute: 10,
		StartupTimeLimitMS:  2000,
		ShutdownTimeLimitMS: 2000,
	}
}

func newTestProcess(t *testing.T, cfg *config.AppConfig) (*ServerProcess, *atomic.Int32) {
	t.Helper()

	discard, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("opening discard sink: %v", err)
	}
	t.Cleanup(func() { discard.Close() })

	var failures atomic.Int32
	w, err := NewServerProcess(cfg, Deps{
		OnFailure: func() { failures.Add(1) },
		Discard:   discard,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("NewServerProcess failed: %v", err)
	}
	return w.(*ServerProcess), &failures
}

func waitForExit(t *testing.T, sp *ServerProcess, timeout time.Duration) {
	t.Helper()
	select {
	case <-sp.exited:
	case <-time.After(timeout):
		t.Fatal("process did not exit in time")
	}
}

func TestProcessStartAndStop(t *testing.T) {
	cfg := processTestConfig(`sh -c "trap 'exit 0' INT TERM; while true; do sleep 0.1; done"`)
	sp, failures := newTestProcess(t, cfg)
	sp.probe = func(int) bool { return true }

	if err := sp.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !sp.IsReady() {
		t.Error("expected process ready after Start")
	}
	if sp.Port() == 0 {
		t.Error("expected an allocated port")
	}

	sp.Stop()
	waitForExit(t, sp, 3*time.Second)

	if sp.IsReady() {
		t.Error("expected process not ready after Stop")
	}
	if failures.Load() != 0 {
		t.Errorf("clean stop counted %d failures", failures.Load())
	}

	// Idempotent.
	sp.Stop()
	sp.Release()
	sp.Release()
}

func TestProcessStartNonexistentBinary(t *testing.T) {
	cfg := processTestConfig("/nonexistent/binary")
	sp, failures := newTestProcess(t, cfg)

	if err := sp.Start(context.Background()); err == nil {
		t.Fatal("expected Start to fail for a missing binary")
	}
	if failures.Load() != 1 {
		t.Errorf("expected 1 failure recorded, got %d", failures.Load())
	}
	if sp.IsReady() {
		t.Error("failed process must not report ready")
	}
}

func TestProcessNeverReadyTimesOut(t *testing.T) {
	cfg := processTestConfig(`sh -c "trap 'exit 0' INT TERM; while true; do sleep 0.1; done"`)
	cfg.StartupTimeLimitMS = 300
	sp, failures := newTestProcess(t, cfg)
	sp.probe = func(int) bool { return false }

	start := time.Now()
	if err := sp.Start(context.Background()); err == nil {
		t.Fatal("expected Start to fail when the port never opens")
	}
	if elapsed := time.Since(start); elapsed < 250*time.Millisecond {
		t.Errorf("Start returned after %v, before the startup limit", elapsed)
	}
	if failures.Load() != 1 {
		t.Errorf("expected exactly 1 failure recorded, got %d", failures.Load())
	}
	waitForExit(t, sp, 3*time.Second)
}

func TestProcessUnexpectedExitCountsFailure(t *testing.T) {
	cfg := processTestConfig(`sh -c "sleep 0.2"`)
	sp, failures := newTestProcess(t, cfg)
	sp.probe = func(int) bool { return true }

	if err := sp.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitForExit(t, sp, 3*time.Second)

	if sp.IsReady() {
		t.Error("expected readiness dropped after exit")
	}
	if failures.Load() != 1 {
		t.Errorf("expected unplanned exit to count as failure, got %d", failures.Load())
	}
}

func TestProcessSendSignal(t *testing.T) {
	cfg := processTestConfig(`sh -c "trap 'exit 0' INT TERM; while true; do sleep 0.1; done"`)
	sp, failures := newTestProcess(t, cfg)
	sp.probe = func(int) bool { return true }

	if err := sp.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	sp.SendSignal()
	if sp.IsReady() {
		t.Error("expected readiness dropped after signal")
	}
	waitForExit(t, sp, 3*time.Second)

	if failures.Load() != 0 {
		t.Errorf("signaled exit counted %d failures", failures.Load())
	}
}

func TestProcessEnvironmentContract(t *testing.T) {
	cfg := processTestConfig("/bin/true")
	cfg.VirtualPath = "/app"
	cfg.WebsocketSupport = true
	cfg.AnonymousAuth = true
	cfg.Environment = map[string]string{"CUSTOM": "value"}

	sp, _ := newTestProcess(t, cfg)
	sp.port = 12345

	env := sp.buildEnv()
	want := map[string]bool{
		"PORT=12345":                  false,
		"HOSTBRIDGE_PORT=12345":       false,
		"HOSTBRIDGE_APP_PATH=/app":    false,
		"HOSTBRIDGE_WEBSOCKETS=1":     false,
		"HOSTBRIDGE_ANONYMOUS_AUTH=1": false,
		"CUSTOM=value":                false,
	}
	for _, kv := range env {
		if _, ok := want[kv]; ok {
			want[kv] = true
		}
	}
	for kv, seen := range want {
		if !seen {
			t.Errorf("missing environment entry %s", kv)
		}
	}
}

func TestAllocatePortFromRange(t *testing.T) {
	port, err := allocatePort(config.PortRange{Min: 42000, Max: 42100})
	if err != nil {
		t.Fatalf("allocatePort failed: %v", err)
	}
	if port < 42000 || port > 42100 {
		t.Errorf("port %d outside requested range", port)
	}
}

func TestAllocatePortEphemeral(t *testing.T) {
	port, err := allocatePort(config.PortRange{})
	if err != nil {
		t.Fatalf("allocatePort failed: %v", err)
	}
	if port == 0 {
		t.Error("expected a nonzero ephemeral port")
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name    string
		command string
		want    []string
		wantErr bool
	}{
		{
			name:    "simple",
			command: "dotnet app.dll",
			want:    []string{"dotnet", "app.dll"},
		},
		{
			name:    "quoted path",
			command: `"/opt/my app/server" --urls http://127.0.0.1:5000`,
			want:    []string{"/opt/my app/server", "--urls", "http://127.0.0.1:5000"},
		},
		{
			name:    "single quotes",
			command: "sh -c 'echo hello world'",
			want:    []string{"sh", "-c", "echo hello world"},
		},
		{
			name:    "escaped space",
			command: `server --name=my\ app`,
			want:    []string{"server", "--name=my app"},
		},
		{
			name:    "extra whitespace",
			command: "  node   server.js  ",
			want:    []string{"node", "server.js"},
		},
		{
			name:    "unclosed quote",
			command: `sh -c "echo broken`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseCommand(tt.command)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseCommand failed: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("parseCommand(%q) = %v, want %v", tt.command, got, tt.want)
			}
		})
	}
}
