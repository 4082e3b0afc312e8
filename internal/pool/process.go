package pool

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/hostbridge/hostbridge/internal/config"
)

const (
	readyPollInterval = 100 * time.Millisecond
	killTimeout       = 5 * time.Second
)

// ServerProcess is the production Worker: a backend process launched
// from the application descriptor, listening on an assigned local port.
type ServerProcess struct {
	app     string
	command string
	port    int
	cfg     *config.AppConfig
	deps    Deps
	logger  *slog.Logger

	cmd     *exec.Cmd
	logFile *os.File
	exited  chan struct{} // closed once the process has exited

	ready    atomic.Bool
	stopped  atomic.Bool
	released atomic.Bool

	// probe checks whether the worker accepts connections on its port.
	// Overridable in tests.
	probe func(port int) bool
}

// NewServerProcess creates an unstarted worker for the given
// application descriptor. Satisfies Factory.
func NewServerProcess(cfg *config.AppConfig, deps Deps) (Worker, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	command := cfg.ProcessPath
	if cfg.Arguments != "" {
		command += " " + cfg.Arguments
	}

	return &ServerProcess{
		app:     cfg.Name,
		command: command,
		cfg:     cfg,
		deps:    deps,
		logger:  logger,
		exited:  make(chan struct{}),
		probe:   tcpProbe,
	}, nil
}

// Start launches the process and blocks until it accepts connections or
// the startup time limit passes.
func (sp *ServerProcess) Start(ctx context.Context) error {
	port, err := allocatePort(sp.cfg.Ports)
	if err != nil {
		sp.fail()
		return fmt.Errorf("allocating port: %w", err)
	}
	sp.port = port

	args, err := parseCommand(sp.command)
	if err != nil || len(args) == 0 {
		sp.fail()
		return fmt.Errorf("invalid worker command %q: %w", sp.command, err)
	}

	sp.cmd = exec.Command(args[0], args[1:]...)
	sp.cmd.Dir = sp.cfg.PhysicalPath
	sp.cmd.Env = sp.buildEnv()
	sp.cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr io.ReadCloser
	if sp.cfg.ConsoleRedirection {
		// Worker output flows into the hostbridge log stream.
		if stdout, err = sp.cmd.StdoutPipe(); err != nil {
			sp.fail()
			return fmt.Errorf("creating stdout pipe: %w", err)
		}
		if stderr, err = sp.cmd.StderrPipe(); err != nil {
			sp.fail()
			return fmt.Errorf("creating stderr pipe: %w", err)
		}
	} else if sink, sinkErr := sp.outputSink(); sinkErr != nil {
		sp.fail()
		return sinkErr
	} else {
		sp.cmd.Stdout = sink
		sp.cmd.Stderr = sink
	}

	if err := sp.cmd.Start(); err != nil {
		sp.fail()
		return fmt.Errorf("starting worker: %w", err)
	}

	sp.logger.Info("Worker process started",
		"app", sp.app, "pid", sp.cmd.Process.Pid, "port", sp.port)

	if sp.cfg.ConsoleRedirection {
		go sp.streamOutput(stdout, "stdout")
		go sp.streamOutput(stderr, "stderr")
	}

	go sp.monitor()

	if err := sp.waitReady(ctx); err != nil {
		// Mark stopped first so the monitor does not double-count the
		// induced exit as a second failure.
		sp.stopped.Store(true)
		sp.terminate()
		sp.fail()
		return err
	}

	sp.ready.Store(true)
	return nil
}

// IsReady reports whether the worker can receive traffic.
func (sp *ServerProcess) IsReady() bool {
	return sp.ready.Load() && !sp.stopped.Load()
}

// Port returns the worker's listening port.
func (sp *ServerProcess) Port() int {
	return sp.port
}

// Stop terminates the process: SIGINT, then SIGKILL after the shutdown
// time limit. Idempotent.
func (sp *ServerProcess) Stop() {
	if !sp.stopped.CompareAndSwap(false, true) {
		return
	}
	sp.ready.Store(false)

	if sp.cmd == nil || sp.cmd.Process == nil {
		return
	}

	sp.logger.Info("Stopping worker", "app", sp.app, "port", sp.port, "pid", sp.cmd.Process.Pid)
	if err := sp.cmd.Process.Signal(syscall.SIGINT); err != nil {
		sp.logger.Warn("Failed to signal worker", "error", err)
	}

	select {
	case <-sp.exited:
	case <-time.After(sp.cfg.ShutdownTimeLimit()):
		sp.logger.Warn("Worker did not exit in time, killing",
			"app", sp.app, "port", sp.port, "timeout", sp.cfg.ShutdownTimeLimit())
		sp.terminate()
		select {
		case <-sp.exited:
		case <-time.After(killTimeout):
			sp.logger.Error("Worker did not exit after kill", "app", sp.app, "port", sp.port)
		}
	}
}

// SendSignal asks the worker to drain and exit without waiting for it.
func (sp *ServerProcess) SendSignal() {
	if !sp.stopped.CompareAndSwap(false, true) {
		return
	}
	sp.ready.Store(false)

	if sp.cmd == nil || sp.cmd.Process == nil {
		return
	}
	sp.logger.Info("Signaling worker to drain", "app", sp.app, "port", sp.port)
	if err := sp.cmd.Process.Signal(syscall.SIGINT); err != nil {
		sp.logger.Warn("Failed to signal worker", "error", err)
	}
}

// Release frees resources held on the worker's behalf. Idempotent.
func (sp *ServerProcess) Release() {
	if !sp.released.CompareAndSwap(false, true) {
		return
	}
	if sp.logFile != nil {
		sp.logFile.Close()
		sp.logFile = nil
	}
}

// fail reports a start failure to the manager's rapid-fail accounting.
func (sp *ServerProcess) fail() {
	if sp.deps.OnFailure != nil {
		sp.deps.OnFailure()
	}
}

// terminate kills the process group without waiting.
func (sp *ServerProcess) terminate() {
	if sp.cmd != nil && sp.cmd.Process != nil {
		_ = sp.cmd.Process.Kill()
	}
}

// monitor reaps the process and watches for it exiting on its own. An
// exit that was not requested drops readiness and counts as a failure.
func (sp *ServerProcess) monitor() {
	err := sp.cmd.Wait()
	close(sp.exited)

	sp.ready.Store(false)
	if sp.stopped.Load() {
		return
	}
	sp.logger.Error("Worker exited unexpectedly", "app", sp.app, "port", sp.port, "error", err)
	sp.fail()
}

// waitReady polls the worker's port until it accepts connections or the
// startup time limit passes.
func (sp *ServerProcess) waitReady(ctx context.Context) error {
	deadline := time.NewTimer(sp.cfg.StartupTimeLimit())
	defer deadline.Stop()
	tick := time.NewTicker(readyPollInterval)
	defer tick.Stop()

	for {
		if sp.probe(sp.port) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("worker not ready within %v", sp.cfg.StartupTimeLimit())
		case <-tick.C:
		}
	}
}

// outputSink resolves where non-redirected worker output goes: the
// configured log file, or the manager's discard sink.
func (sp *ServerProcess) outputSink() (*os.File, error) {
	if sp.cfg.StdoutLogEnabled && sp.cfg.StdoutLogFile != "" {
		f, err := os.OpenFile(sp.cfg.StdoutLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("opening stdout log: %w", err)
		}
		sp.logFile = f
		return f, nil
	}
	return sp.deps.Discard, nil
}

// buildEnv assembles the worker environment: the parent environment,
// descriptor overrides, and the hostbridge contract variables.
func (sp *ServerProcess) buildEnv() []string {
	env := os.Environ()
	for k, v := range sp.cfg.Environment {
		env = append(env, k+"="+v)
	}
	env = append(env,
		"PORT="+strconv.Itoa(sp.port),
		"HOSTBRIDGE_PORT="+strconv.Itoa(sp.port),
		"HOSTBRIDGE_APP_PATH="+sp.cfg.VirtualPath,
	)
	if sp.cfg.WebsocketSupport {
		env = append(env, "HOSTBRIDGE_WEBSOCKETS=1")
	}
	if sp.cfg.AnonymousAuth {
		env = append(env, "HOSTBRIDGE_ANONYMOUS_AUTH=1")
	}
	return env
}

// streamOutput forwards a worker output stream into the log.
func (sp *ServerProcess) streamOutput(reader io.Reader, source string) {
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		sp.logger.Info(scanner.Text(), "app", sp.app, "source", source)
	}
	if err := scanner.Err(); err != nil {
		sp.logger.Warn("Error reading worker output", "source", source, "error", err)
	}
}

// tcpProbe dials the worker's loopback port once.
func tcpProbe(port int) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), readyPollInterval)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// allocatePort reserves a local port for the worker: the first free
// port of the configured range, or an ephemeral one for a zero range.
// The port is released again before the worker starts, which leaves a
// small window where another process could claim it; the readiness
// probe catches that as a start failure.
func allocatePort(r config.PortRange) (int, error) {
	if r.Min == 0 && r.Max == 0 {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return 0, err
		}
		port := l.Addr().(*net.TCPAddr).Port
		l.Close()
		return port, nil
	}

	for port := r.Min; port <= r.Max; port++ {
		l, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
		if err != nil {
			continue
		}
		l.Close()
		return port, nil
	}
	return 0, fmt.Errorf("no free port in range %d-%d", r.Min, r.Max)
}

// parseCommand splits a command string into arguments, handling quoted
// strings and basic escaping.
func parseCommand(command string) ([]string, error) {
	var args []string
	var current strings.Builder
	inQuote := false
	quoteChar := rune(0)

	command = strings.TrimSpace(command)
	runes := []rune(command)

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '"' || r == '\'':
			switch {
			case !inQuote:
				inQuote = true
				quoteChar = r
			case r == quoteChar:
				inQuote = false
				quoteChar = 0
			default:
				current.WriteRune(r)
			}
		case r == ' ' && !inQuote:
			if current.Len() > 0 {
				args = append(args, current.String())
				current.Reset()
			}
		case r == '\\' && i+1 < len(runes):
			i++
			current.WriteRune(runes[i])
		default:
			current.WriteRune(r)
		}
	}

	if current.Len() > 0 {
		args = append(args, current.String())
	}

	if inQuote {
		return nil, fmt.Errorf("unclosed quote in command")
	}

	return args, nil
}
