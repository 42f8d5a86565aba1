package chromium

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uichat/uichat/api"
	"github.com/uichat/uichat/log"
)

// fakeProcess is a process that can be told to ignore graceful termination.
type fakeProcess struct {
	mu          sync.Mutex
	ignoresTerm bool
	ignoresKill bool
	dead        bool
	termSignals int
	killSignals int
}

func (p *fakeProcess) signal(sig syscall.Signal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch sig {
	case syscall.SIGTERM:
		p.termSignals++
		if !p.ignoresTerm {
			p.dead = true
		}
	case syscall.SIGKILL:
		p.killSignals++
		if !p.ignoresKill {
			p.dead = true
		}
	}
	return nil
}

func (p *fakeProcess) alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.dead
}

// controlServer pretends to be the browser's DevTools HTTP endpoint.
func controlServer(t *testing.T) (endpoint string, port int) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/json/version" {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err = strconv.Atoi(u.Port())
	require.NoError(t, err)
	return u.Host, port
}

func newTestSupervisor(t *testing.T) *Supervisor {
	t.Helper()
	s := NewSupervisor("/nonexistent/browser-binary", filepath.Join(t.TempDir(), "browser.pid"), log.NewNullLogger())
	s.readyInterval = 10 * time.Millisecond
	s.readyAttempts = 3
	s.killWindow = 500 * time.Millisecond
	return s
}

func TestEnsureRunningIdempotentAgainstLiveEndpoint(t *testing.T) {
	t.Parallel()

	endpoint, port := controlServer(t)
	s := newTestSupervisor(t)

	// The binary path is bogus: any launch attempt would fail loudly. Both
	// calls must attach to the already reachable endpoint instead.
	h1, err := s.EnsureRunning(context.Background(), t.TempDir(), port)
	require.NoError(t, err)
	assert.Equal(t, endpoint, h1.ControlEndpoint)
	assert.Equal(t, Running, s.State())

	h2, err := s.EnsureRunning(context.Background(), t.TempDir(), port)
	require.NoError(t, err)
	assert.Equal(t, h1.ControlEndpoint, h2.ControlEndpoint)
}

func TestEnsureRunningLaunchFailed(t *testing.T) {
	t.Parallel()

	s := newTestSupervisor(t)
	_, err := s.EnsureRunning(context.Background(), t.TempDir(), freeUnusedPort(t))
	require.Error(t, err)
	assert.Equal(t, api.KindBrowserLaunchFailed, api.KindOf(err))
	assert.Equal(t, Stopped, s.State())
}

func TestEnsureRunningAdoptsPidfileRecord(t *testing.T) {
	t.Parallel()

	endpoint, port := controlServer(t)
	s := newTestSupervisor(t)

	// Record the test process itself: alive, and the endpoint is served.
	require.NoError(t, writePidfile(s.pidfile, pidfileRecord{
		PID:             os.Getpid(),
		ProfileDir:      "profile",
		ControlEndpoint: endpoint,
	}))

	h, err := s.EnsureRunning(context.Background(), "profile", port)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), h.PID)
	assert.Equal(t, endpoint, h.ControlEndpoint)
}

func TestEnsureRunningDiscardsStalePidfile(t *testing.T) {
	t.Parallel()

	s := newTestSupervisor(t)

	deadPID := reapedPID(t)
	require.NoError(t, writePidfile(s.pidfile, pidfileRecord{
		PID:             deadPID,
		ControlEndpoint: "127.0.0.1:1",
	}))

	_, err := s.EnsureRunning(context.Background(), t.TempDir(), freeUnusedPort(t))
	require.Error(t, err) // bogus binary: launch fails, but the stale record is gone
	_, rerr := readPidfile(s.pidfile)
	assert.Error(t, rerr)
}

func TestStopGracefulThenForceful(t *testing.T) {
	t.Parallel()

	s := newTestSupervisor(t)
	proc := &fakeProcess{ignoresTerm: true}
	require.NoError(t, writePidfile(s.pidfile, pidfileRecord{PID: 4242, ControlEndpoint: "127.0.0.1:1"}))
	s.mu.Lock()
	s.adoptLocked(&Handle{PID: 4242, ControlEndpoint: "127.0.0.1:1"}, proc)
	s.mu.Unlock()

	err := s.Stop(context.Background(), 200*time.Millisecond)
	require.NoError(t, err)

	// Stopped only after the forced-kill path executed.
	assert.Equal(t, 1, proc.termSignals)
	assert.Equal(t, 1, proc.killSignals)
	assert.Equal(t, Stopped, s.State())
	assert.Nil(t, s.Handle())
	_, rerr := readPidfile(s.pidfile)
	assert.Error(t, rerr, "pidfile must be removed on confirmed exit")
}

func TestStopGracefulSufficient(t *testing.T) {
	t.Parallel()

	s := newTestSupervisor(t)
	proc := &fakeProcess{}
	s.mu.Lock()
	s.adoptLocked(&Handle{PID: 4242}, proc)
	s.mu.Unlock()

	require.NoError(t, s.Stop(context.Background(), 200*time.Millisecond))
	assert.Equal(t, 1, proc.termSignals)
	assert.Zero(t, proc.killSignals)
	assert.Equal(t, Stopped, s.State())
}

func TestStopFailed(t *testing.T) {
	t.Parallel()

	s := newTestSupervisor(t)
	s.killWindow = 100 * time.Millisecond
	proc := &fakeProcess{ignoresTerm: true, ignoresKill: true}
	s.mu.Lock()
	s.adoptLocked(&Handle{PID: 4242}, proc)
	s.mu.Unlock()

	err := s.Stop(context.Background(), 100*time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, api.KindStopFailed, api.KindOf(err))
	assert.Equal(t, Running, s.State())
}

func TestEnsureRunningWhileStopInFlight(t *testing.T) {
	t.Parallel()

	endpoint, port := controlServer(t)
	s := newTestSupervisor(t)
	// The process ignores graceful termination so Stop stays in flight for
	// its whole grace window.
	proc := &fakeProcess{ignoresTerm: true}
	s.mu.Lock()
	s.adoptLocked(&Handle{PID: 4242, ControlEndpoint: endpoint}, proc)
	s.mu.Unlock()

	stopDone := make(chan error, 1)
	go func() {
		stopDone <- s.Stop(context.Background(), 300*time.Millisecond)
	}()
	time.Sleep(50 * time.Millisecond) // let Stop enter its graceful window

	// EnsureRunning must not join the in-flight stop and read its nil
	// handle; it waits for the stop to finish, then brings the browser back
	// by attaching to the still-served endpoint.
	h, err := s.EnsureRunning(context.Background(), t.TempDir(), port)
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, endpoint, h.ControlEndpoint)

	require.NoError(t, <-stopDone)
	assert.Equal(t, 1, proc.termSignals)
	assert.Equal(t, 1, proc.killSignals)
	assert.Equal(t, Running, s.State())
}

func TestStopWithNothingRecorded(t *testing.T) {
	t.Parallel()

	s := newTestSupervisor(t)
	require.NoError(t, s.Stop(context.Background(), 100*time.Millisecond))
	assert.Equal(t, Stopped, s.State())
}

func TestPidfileRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "browser.pid")
	rec := pidfileRecord{PID: 1234, ProfileDir: "/tmp/profile", ControlEndpoint: "127.0.0.1:9222"}
	require.NoError(t, writePidfile(path, rec))

	got, err := readPidfile(path)
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	require.NoError(t, removePidfile(path))
	_, err = readPidfile(path)
	assert.Error(t, err)
	// Removing twice is fine.
	assert.NoError(t, removePidfile(path))
}

func TestPidfileRejectsGarbage(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "browser.pid")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o600))
	_, err := readPidfile(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`{"pid":0}`), 0o600))
	_, err = readPidfile(path)
	assert.Error(t, err)
}

// reapedPID returns the PID of a process that has already exited.
func reapedPID(t *testing.T) int {
	t.Helper()
	cmd := exec.Command("true")
	require.NoError(t, cmd.Run())
	return cmd.Process.Pid
}

// freeUnusedPort reserves a port and releases it so nothing is listening.
func freeUnusedPort(t *testing.T) int {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	srv.Close()
	return port
}
