// Package unifiedexec is fence's unified PTY execution manager: one
// session map shared by every interactive command a coding agent drives
// (shells, REPLs, pagers), each session backed by a ring-buffered output
// accumulator and a cooperative timeout model.
package unifiedexec

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Use-Tusk/fence/internal/fenceerr"
	"github.com/Use-Tusk/fence/internal/pty"
)

// State is a session's position in its lifecycle: Spawning while the PTY
// and child process are being created, Running while the child is alive,
// Draining once the child has exited but buffered output hasn't been
// fully collected yet, Exited once both are done.
type State int

const (
	Spawning State = iota
	Running
	Draining
	Exited
)

const (
	// DefaultTimeout is applied when a caller doesn't specify one.
	DefaultTimeout = 1000 * time.Millisecond
	// MaxTimeout clamps any caller-supplied timeout.
	MaxTimeout = 60000 * time.Millisecond
	// finalOutputLimit bounds the output returned on session exit.
	finalOutputLimit = 128 * 1024
)

// Session is one managed PTY-backed command execution. CallID is a random
// UUID assigned at spawn; this package stores it but does not emit it
// anywhere.
type Session struct {
	ID        int64
	CallID    string
	mu        sync.Mutex
	cond      *sync.Cond
	state     State
	pty       *pty.SpawnedPTY
	buf       *outputBuffer
	spawnedAt time.Time
	exitCode  *int
	exitErr   error

	// lastInputEndedWithSpace tracks trailing whitespace across separate
	// Write calls, so the token-separation rule below can tell a single
	// write apart from back-to-back writes that would otherwise run two
	// tokens together. Starts true since there's no prior input to join.
	lastInputEndedWithSpace bool
}

// Manager owns every live Session, keyed by an atomically-allocated id.
type Manager struct {
	mu      sync.Mutex
	nextID  atomic.Int64
	byID    map[int64]*Session
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{byID: make(map[int64]*Session)}
}

// Spawn starts program under a fresh PTY and registers it under a new
// session id. The session starts in Running once the PTY is allocated; the
// Spawning state exists for callers that want to observe the gap between
// id allocation and the process actually forking, which this
// implementation collapses since pty.Spawn is synchronous.
func (m *Manager) Spawn(program string, args []string, env []string, dir string) (*Session, error) {
	id := m.nextID.Add(1)

	p, err := pty.Spawn(program, args, env, dir)
	if err != nil {
		return nil, &fenceerr.SandboxSpawn{OSError: err.Error()}
	}

	s := &Session{
		ID:                      id,
		CallID:                  uuid.NewString(),
		state:                   Running,
		pty:                     p,
		buf:                     newOutputBuffer(),
		spawnedAt:               time.Now(),
		lastInputEndedWithSpace: true,
	}
	s.cond = sync.NewCond(&s.mu)

	m.mu.Lock()
	m.byID[id] = s
	m.mu.Unlock()

	go m.pump(s)

	return s, nil
}

// pump drains the PTY's output into the session's ring buffer until the
// child exits, then marks the session Draining and finally Exited. One
// goroutine per session; no explicit cleanup hook is needed since closing
// s.pty.File unblocks the Read here and the goroutine returns on its own.
func (m *Manager) pump(s *Session) {
	buf := make([]byte, 4096)
	for {
		n, err := s.pty.File.Read(buf)
		if n > 0 {
			s.mu.Lock()
			s.buf.push(buf[:n])
			s.cond.Broadcast()
			s.mu.Unlock()
		}
		if err != nil {
			break
		}
	}

	waitErr := s.pty.Cmd.Wait()
	code := 0
	if waitErr != nil {
		code = -1
	}

	s.mu.Lock()
	s.state = Draining
	s.exitCode = &code
	s.exitErr = waitErr
	s.state = Exited
	s.cond.Broadcast()
	s.mu.Unlock()

	// The session is reaped from the table the moment exit is observed,
	// not on some later explicit Close: a caller attaching by id after
	// this point must see it as gone, the same as one that never existed.
	m.mu.Lock()
	delete(m.byID, s.ID)
	m.mu.Unlock()
}

// Get looks up a session by id, returning fenceerr.UnknownSessionID if it
// was never created or has already been reaped (on exit, or by Close).
func (m *Manager) Get(id int64) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok {
		return nil, &fenceerr.UnknownSessionID{ID: id}
	}
	return s, nil
}

// Write sends input to the session's PTY stdin, then waits up to timeout
// for new output (or exit) before returning what's been collected so far.
// A caller-requested timeout above MaxTimeout is clamped to it and the
// returned output is prefixed with a warning; zero or negative falls back
// to DefaultTimeout without a warning.
func (m *Manager) Write(id int64, input []byte, timeout time.Duration) ([]byte, bool, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	if s.state == Exited {
		s.mu.Unlock()
		return nil, true, &fenceerr.UnknownSessionID{ID: id}
	}
	s.mu.Unlock()

	clamped, warn := clampTimeout(timeout)

	if len(input) > 0 {
		s.mu.Lock()
		joined := joinInputChunk(input, s.lastInputEndedWithSpace)
		s.lastInputEndedWithSpace = isSpaceByte(joined[len(joined)-1])
		s.mu.Unlock()

		if _, err := s.pty.File.Write(joined); err != nil {
			return nil, false, &fenceerr.WriteToStdin{ID: id, Reason: err.Error()}
		}
	}

	out, exited := waitForOutput(s, clamped)

	if warn != "" {
		out = append([]byte(warn), out...)
	}

	if snippet, denied := CheckForSandboxDenial(out, time.Since(s.spawnedAt)); denied {
		return out, exited, &fenceerr.SandboxDenied{Snippet: snippet}
	}

	return truncateMiddle(out, finalOutputLimit), exited, nil
}

// waitForOutput blocks on s.cond until either new output has arrived, the
// session exits, or timeout elapses, then drains and returns the buffer.
func waitForOutput(s *Session, timeout time.Duration) ([]byte, bool) {
	timer := time.AfterFunc(timeout, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	deadline := time.Now().Add(timeout)
	for s.buf.totalBytes == 0 && s.state != Exited && time.Now().Before(deadline) {
		s.cond.Wait()
	}

	out := s.buf.drain()
	exited := s.state == Exited
	return out, exited
}

// joinInputChunk applies the write-side token-separation rule: when this
// chunk doesn't start with whitespace and the previous chunk (from an
// earlier, separate Write call) didn't end in whitespace either, a single
// space is inserted so the two requests' tokens don't run together on the
// child's stdin. It never looks inside chunk, only at its two edges.
func joinInputChunk(chunk []byte, prevEndedWithSpace bool) []byte {
	if prevEndedWithSpace || isSpaceByte(chunk[0]) {
		return chunk
	}
	joined := make([]byte, 0, len(chunk)+1)
	joined = append(joined, ' ')
	joined = append(joined, chunk...)
	return joined
}

func isSpaceByte(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	default:
		return false
	}
}

// clampTimeout caps the timeout at MaxTimeout, returning a one-line warning
// to prepend to output when the request exceeded it. Zero or negative
// requests map to DefaultTimeout with no warning.
func clampTimeout(requested time.Duration) (time.Duration, string) {
	if requested <= 0 {
		return DefaultTimeout, ""
	}
	if requested > MaxTimeout {
		return MaxTimeout, fmt.Sprintf("[fence: timeout clamped to %s]\n", MaxTimeout)
	}
	return requested, ""
}

// Kill terminates the session's child process and releases its PTY.
func (m *Manager) Kill(id int64) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	if s.pty.Cmd.Process != nil {
		_ = s.pty.Cmd.Process.Kill()
	}
	return s.pty.Close()
}

// Close removes a fully-exited session from the manager's table.
func (m *Manager) Close(id int64) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	if state != Exited {
		return &fenceerr.InvalidArgument{Arg: "id", Reason: "session has not exited"}
	}
	m.mu.Lock()
	delete(m.byID, id)
	m.mu.Unlock()
	return nil
}

// State reports a session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Peek returns a snapshot of the buffered output for callers that need to display it
// without draining (e.g. a status poll), kept distinct from Write's drain
// semantics.
func (s *Session) Peek() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.snapshot()
}
