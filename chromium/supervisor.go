// Package chromium is responsible for launching a Chromium browser process
// with a remote debugging endpoint and managing its lifetime.
package chromium

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/uichat/uichat/api"
	"github.com/uichat/uichat/log"
)

// State is the supervised process lifecycle state.
type State int32

const (
	Stopped State = iota
	Starting
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Handle describes the supervised browser process. A PID of zero means the
// supervisor attached to an endpoint owned by a process it did not launch.
type Handle struct {
	PID             int
	ProfileDir      string
	ControlEndpoint string
}

// process abstracts the OS process so tests can substitute one that ignores
// graceful termination.
type process interface {
	signal(sig syscall.Signal) error
	alive() bool
}

type osProcess struct {
	pid int
}

func (p osProcess) signal(sig syscall.Signal) error {
	return syscall.Kill(p.pid, sig)
}

func (p osProcess) alive() bool {
	// Signal 0 probes for existence without delivering anything.
	return syscall.Kill(p.pid, 0) == nil
}

// endpointProcess stands in when the supervisor attached to an already
// running browser whose PID it does not know. Liveness degrades to endpoint
// reachability and stop signals are refused.
type endpointProcess struct {
	sup      *Supervisor
	endpoint string
}

func (p endpointProcess) signal(syscall.Signal) error {
	return errors.New("attached browser was not launched by this process")
}

func (p endpointProcess) alive() bool {
	return p.sup.endpointReachable(context.Background(), p.endpoint)
}

// Supervisor owns the lifecycle of the single automated browser process.
// EnsureRunning and Stop are mutually exclusive; neither blocks provider
// interactions once the browser is confirmed running.
type Supervisor struct {
	execPath string
	pidfile  string
	logger   *log.Logger

	mu     sync.Mutex
	state  State
	handle *Handle
	proc   process

	launch singleflight.Group

	readyInterval time.Duration
	readyAttempts int
	killWindow    time.Duration
	httpClient    *http.Client
}

// NewSupervisor returns a Supervisor that launches the browser binary at
// execPath and records its handle in pidfile.
func NewSupervisor(execPath, pidfile string, logger *log.Logger) *Supervisor {
	return &Supervisor{
		execPath:      execPath,
		pidfile:       pidfile,
		logger:        logger,
		state:         Stopped,
		readyInterval: 250 * time.Millisecond,
		readyAttempts: 40,
		killWindow:    2 * time.Second,
		httpClient:    &http.Client{Timeout: 2 * time.Second},
	}
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Handle returns a copy of the current handle, or nil when no browser is
// recorded.
func (s *Supervisor) Handle() *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		return nil
	}
	h := *s.handle
	return &h
}

// EnsureRunning makes sure a browser owns the control endpoint and returns
// its handle. It is idempotent: a live recorded process, a live pidfile
// record, or any process already serving the endpoint all short-circuit the
// launch. Concurrent EnsureRunning callers collapse onto a single attempt;
// a concurrent Stop is serialized behind s.mu instead, so neither operation
// ever observes the other's result.
func (s *Supervisor) EnsureRunning(ctx context.Context, profileDir string, controlPort int) (*Handle, error) {
	v, err, _ := s.launch.Do("launch", func() (interface{}, error) {
		return s.ensureRunning(ctx, profileDir, controlPort)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Handle), nil
}

func (s *Supervisor) ensureRunning(ctx context.Context, profileDir string, controlPort int) (*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	endpoint := net.JoinHostPort("127.0.0.1", strconv.Itoa(controlPort))

	// Never trust cached state: probe the recorded process before using it.
	if s.handle != nil {
		if s.proc != nil && s.proc.alive() && s.endpointReachable(ctx, s.handle.ControlEndpoint) {
			s.logger.Debugf("Supervisor:EnsureRunning", "reusing live browser pid:%d endpoint:%s", s.handle.PID, s.handle.ControlEndpoint)
			h := *s.handle
			return &h, nil
		}
		s.logger.Warnf("Supervisor:EnsureRunning", "discarding stale handle pid:%d", s.handle.PID)
		s.clearHandleLocked()
	}

	// The pidfile is a recovery hint only; validate it against actual
	// process liveness before trusting it.
	if rec, err := readPidfile(s.pidfile); err == nil {
		p := osProcess{pid: rec.PID}
		if p.alive() && s.endpointReachable(ctx, rec.ControlEndpoint) {
			s.logger.Infof("Supervisor:EnsureRunning", "adopting browser from pidfile pid:%d endpoint:%s", rec.PID, rec.ControlEndpoint)
			s.adoptLocked(&Handle{PID: rec.PID, ProfileDir: rec.ProfileDir, ControlEndpoint: rec.ControlEndpoint}, p)
			h := *s.handle
			return &h, nil
		}
		s.logger.Warnf("Supervisor:EnsureRunning", "removing stale pidfile record pid:%d", rec.PID)
		_ = removePidfile(s.pidfile)
	}

	// Some other process may already own the endpoint (a browser started by
	// hand). Attach instead of failing the port bind.
	if s.endpointReachable(ctx, endpoint) {
		s.logger.Infof("Supervisor:EnsureRunning", "attaching to browser already serving %s", endpoint)
		s.adoptLocked(&Handle{ProfileDir: profileDir, ControlEndpoint: endpoint}, endpointProcess{sup: s, endpoint: endpoint})
		h := *s.handle
		return &h, nil
	}

	return s.launchLocked(ctx, profileDir, controlPort, endpoint)
}

func (s *Supervisor) launchLocked(ctx context.Context, profileDir string, controlPort int, endpoint string) (*Handle, error) {
	s.state = Starting
	s.logger.Infof("Supervisor:launch", "starting %s profile:%s port:%d", s.execPath, profileDir, controlPort)

	cmd := exec.Command(s.execPath, launchArgs(profileDir, controlPort)...) //nolint:gosec
	cmd.Env = os.Environ()
	if err := cmd.Start(); err != nil {
		s.state = Stopped
		return nil, api.NewError(api.KindBrowserLaunchFailed, api.StageLaunch,
			"starting %s: %v", s.execPath, err)
	}
	// Reap the child when it exits so it never lingers as a zombie.
	go func() {
		if err := cmd.Wait(); err != nil {
			s.logger.Debugf("Supervisor:launch", "browser pid:%d ended: %v", cmd.Process.Pid, err)
		}
	}()

	proc := osProcess{pid: cmd.Process.Pid}

	// Bounded readiness polling: fixed interval, fixed max attempts.
	if err := s.awaitEndpoint(ctx, endpoint); err != nil {
		_ = proc.signal(syscall.SIGKILL)
		s.state = Stopped
		return nil, api.NewError(api.KindBrowserLaunchFailed, api.StageLaunch,
			"control endpoint %s never became reachable: %v", endpoint, err)
	}

	h := &Handle{PID: cmd.Process.Pid, ProfileDir: profileDir, ControlEndpoint: endpoint}
	s.adoptLocked(h, proc)
	if err := writePidfile(s.pidfile, pidfileRecord{
		PID:             h.PID,
		ProfileDir:      h.ProfileDir,
		ControlEndpoint: h.ControlEndpoint,
	}); err != nil {
		s.logger.Warnf("Supervisor:launch", "writing pidfile %q: %v", s.pidfile, err)
	}
	s.logger.Infof("Supervisor:launch", "browser running pid:%d endpoint:%s", h.PID, h.ControlEndpoint)

	hc := *h
	return &hc, nil
}

// Stop terminates the browser: graceful signal first, then a forced kill if
// the process outlives gracePeriod. The recorded handle is cleared on any
// confirmed exit, forced or not. s.mu serializes Stop against EnsureRunning;
// it must never share the launch singleflight group, or a concurrent
// EnsureRunning would join the stop and read its nil handle.
func (s *Supervisor) Stop(ctx context.Context, gracePeriod time.Duration) error {
	return s.stop(ctx, gracePeriod)
}

func (s *Supervisor) stop(ctx context.Context, gracePeriod time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle == nil || s.proc == nil {
		// Reconcile a leftover pidfile even with nothing recorded in memory.
		if rec, err := readPidfile(s.pidfile); err == nil {
			p := osProcess{pid: rec.PID}
			if !p.alive() {
				_ = removePidfile(s.pidfile)
				return nil
			}
			s.adoptLocked(&Handle{PID: rec.PID, ProfileDir: rec.ProfileDir, ControlEndpoint: rec.ControlEndpoint}, p)
		} else {
			return nil
		}
	}

	if !s.proc.alive() {
		s.logger.Debugf("Supervisor:Stop", "recorded browser already gone")
		s.clearHandleLocked()
		return nil
	}

	s.state = Stopping
	s.logger.Infof("Supervisor:Stop", "terminating browser pid:%d grace:%s", s.handle.PID, gracePeriod)

	if err := s.proc.signal(syscall.SIGTERM); err != nil {
		s.logger.Debugf("Supervisor:Stop", "graceful signal failed: %v", err)
	}
	if s.awaitExit(ctx, gracePeriod) {
		s.clearHandleLocked()
		return nil
	}

	s.logger.Warnf("Supervisor:Stop", "browser pid:%d survived graceful termination, killing", s.handle.PID)
	if err := s.proc.signal(syscall.SIGKILL); err != nil {
		s.logger.Debugf("Supervisor:Stop", "kill signal failed: %v", err)
	}
	if s.awaitExit(ctx, s.killWindow) {
		s.clearHandleLocked()
		return nil
	}

	s.state = Running
	return api.NewError(api.KindStopFailed, api.StageStop,
		"browser pid:%d survived forced kill", s.handle.PID)
}

// awaitExit polls for process exit up to window. Caller holds s.mu.
func (s *Supervisor) awaitExit(ctx context.Context, window time.Duration) bool {
	const interval = 100 * time.Millisecond
	deadline := time.Now().Add(window)
	for {
		if !s.proc.alive() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(interval):
		}
	}
}

func (s *Supervisor) awaitEndpoint(ctx context.Context, endpoint string) error {
	for attempt := 0; attempt < s.readyAttempts; attempt++ {
		if s.endpointReachable(ctx, endpoint) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.readyInterval):
		}
	}
	return errors.Errorf("no response after %d attempts", s.readyAttempts)
}

// endpointReachable probes the DevTools version endpoint.
func (s *Supervisor) endpointReachable(ctx context.Context, endpoint string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("http://%s/json/version", endpoint), nil)
	if err != nil {
		return false
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close() //nolint:errcheck
	return resp.StatusCode == http.StatusOK
}

func (s *Supervisor) adoptLocked(h *Handle, p process) {
	s.handle = h
	s.proc = p
	s.state = Running
}

func (s *Supervisor) clearHandleLocked() {
	s.handle = nil
	s.proc = nil
	s.state = Stopped
	if err := removePidfile(s.pidfile); err != nil {
		s.logger.Debugf("Supervisor", "removing pidfile %q: %v", s.pidfile, err)
	}
}

func launchArgs(profileDir string, controlPort int) []string {
	return []string{
		"--remote-debugging-port=" + strconv.Itoa(controlPort),
		"--remote-debugging-address=127.0.0.1",
		"--user-data-dir=" + profileDir,
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-background-networking",
		"--disable-sync",
	}
}
