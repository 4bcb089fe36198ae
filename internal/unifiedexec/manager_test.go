package unifiedexec

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestManagerSpawnAndWriteEcho(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh on this host")
	}

	m := NewManager()
	s, err := m.Spawn("/bin/sh", nil, os.Environ(), "")
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	defer m.Kill(s.ID)

	out, _, err := m.Write(s.ID, []byte("echo hello-unified-exec\n"), 500*time.Millisecond)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if !strings.Contains(string(out), "hello-unified-exec") {
		t.Errorf("output = %q, want it to contain the echoed line", out)
	}
}

func TestManagerRemovesSessionOnExit(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh on this host")
	}

	m := NewManager()
	s, err := m.Spawn("/bin/sh", nil, os.Environ(), "")
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	id := s.ID

	out, exited, err := m.Write(id, []byte("exit\n"), 2500*time.Millisecond)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if !exited {
		t.Fatalf("exited = false after writing exit, out = %q", out)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, err := m.Get(id); err != nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if _, err := m.Get(id); err == nil {
		t.Fatal("Get(id) after exit error = nil, want UnknownSessionID")
	}
	if _, _, err := m.Write(id, []byte("x"), time.Second); err == nil {
		t.Fatal("Write(id) after exit error = nil, want UnknownSessionID")
	}
}

func TestManagerWriteJoinsTokensAcrossRequests(t *testing.T) {
	s := &Session{lastInputEndedWithSpace: true}

	first := joinInputChunk([]byte("echo"), s.lastInputEndedWithSpace)
	if string(first) != "echo" {
		t.Errorf("first chunk = %q, want %q (no join on first write)", first, "echo")
	}
	s.lastInputEndedWithSpace = isSpaceByte(first[len(first)-1])

	second := joinInputChunk([]byte("hi"), s.lastInputEndedWithSpace)
	if string(second) != " hi" {
		t.Errorf("second chunk = %q, want %q (joined since neither edge had whitespace)", second, " hi")
	}
	s.lastInputEndedWithSpace = isSpaceByte(second[len(second)-1])

	third := joinInputChunk([]byte("\n"), s.lastInputEndedWithSpace)
	if string(third) != "\n" {
		t.Errorf("third chunk = %q, want %q (chunk itself starts with whitespace)", third, "\n")
	}
}

func TestManagerGetUnknownSession(t *testing.T) {
	m := NewManager()
	if _, err := m.Get(999); err == nil {
		t.Fatal("Get(999) error = nil, want UnknownSessionID")
	}
}

func TestManagerWriteUnknownSession(t *testing.T) {
	m := NewManager()
	if _, _, err := m.Write(999, []byte("x"), time.Second); err == nil {
		t.Fatal("Write(999) error = nil, want UnknownSessionID")
	}
}

func TestClampTimeout(t *testing.T) {
	tests := []struct {
		name       string
		in         time.Duration
		wantOut    time.Duration
		wantWarned bool
	}{
		{"zero falls back to default", 0, DefaultTimeout, false},
		{"negative falls back to default", -5 * time.Second, DefaultTimeout, false},
		{"within range unchanged", 5 * time.Second, 5 * time.Second, false},
		{"over max clamped", 120 * time.Second, MaxTimeout, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, warn := clampTimeout(tt.in)
			if out != tt.wantOut {
				t.Errorf("clampTimeout(%v) duration = %v, want %v", tt.in, out, tt.wantOut)
			}
			if (warn != "") != tt.wantWarned {
				t.Errorf("clampTimeout(%v) warned = %v, want %v", tt.in, warn != "", tt.wantWarned)
			}
		})
	}
}
