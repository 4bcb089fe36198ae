// Package pty allocates pseudo-terminals for the unified execution
// manager. Grounded on github.com/creack/pty, the de facto Go PTY
// allocator — no repo in the retrieval pack ships its own, so this is the
// one domain dependency pulled in from general ecosystem knowledge rather
// than a pack go.mod (see DESIGN.md).
package pty

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/creack/pty"
)

// SpawnedPTY is a running child process attached to a pseudo-terminal.
type SpawnedPTY struct {
	Cmd  *exec.Cmd
	File *os.File // PTY master side: read for output, write for input
	PID  int
}

// Spawn starts program with args and env under a fresh pseudo-terminal in
// dir. Closing File and waiting on Cmd tears the session down.
func Spawn(program string, args []string, env []string, dir string) (*SpawnedPTY, error) {
	cmd := exec.Command(program, args...)
	cmd.Dir = dir
	cmd.Env = env

	f, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("spawn pty: %w", err)
	}

	return &SpawnedPTY{Cmd: cmd, File: f, PID: cmd.Process.Pid}, nil
}

// Resize adjusts the PTY window size, matching terminal resize events from
// a connected client.
func (s *SpawnedPTY) Resize(rows, cols uint16) error {
	return pty.Setsize(s.File, &pty.Winsize{Rows: rows, Cols: cols})
}

// Close releases the master side of the PTY. It does not wait for or kill
// the child; callers that need a hard stop should signal Cmd.Process
// first.
func (s *SpawnedPTY) Close() error {
	return s.File.Close()
}
