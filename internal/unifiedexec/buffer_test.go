package unifiedexec

import (
	"bytes"
	"testing"
)

func TestOutputBufferTrimsFromFront(t *testing.T) {
	b := newOutputBuffer()
	chunk := bytes.Repeat([]byte("a"), outputBufferCap/2)

	b.push(chunk)
	b.push(chunk)
	b.push(chunk) // now 1.5x cap, must trim

	if b.totalBytes > outputBufferCap {
		t.Fatalf("totalBytes = %d, want <= %d", b.totalBytes, outputBufferCap)
	}
}

func TestOutputBufferSplitsFrontChunkOnTrim(t *testing.T) {
	b := newOutputBuffer()
	b.push(bytes.Repeat([]byte("x"), outputBufferCap-10))
	b.push(bytes.Repeat([]byte("y"), 100))

	snap := b.snapshot()
	if len(snap) == 0 {
		t.Fatal("snapshot is empty after push")
	}
	if b.totalBytes > outputBufferCap {
		t.Errorf("totalBytes = %d after trim, want <= %d", b.totalBytes, outputBufferCap)
	}
}

func TestOutputBufferDrainEmpties(t *testing.T) {
	b := newOutputBuffer()
	b.push([]byte("hello"))
	if got := b.drain(); string(got) != "hello" {
		t.Errorf("drain() = %q, want %q", got, "hello")
	}
	if b.totalBytes != 0 || len(b.chunks) != 0 {
		t.Errorf("buffer not empty after drain: totalBytes=%d chunks=%d", b.totalBytes, len(b.chunks))
	}
}

func TestOutputBufferConcatenatesChunksExactly(t *testing.T) {
	b := newOutputBuffer()
	b.push([]byte("foo"))
	b.push([]byte("bar"))
	if got := string(b.snapshot()); got != "foobar" {
		t.Errorf("snapshot() = %q, want %q", got, "foobar")
	}
}

func TestOutputBufferPreservesOrderAcrossSplitReads(t *testing.T) {
	b := newOutputBuffer()
	want := "the quick brown fox jumps over the lazy dog"
	for i := 0; i < len(want); i += 7 {
		end := i + 7
		if end > len(want) {
			end = len(want)
		}
		b.push([]byte(want[i:end]))
	}
	if got := string(b.snapshot()); got != want {
		t.Errorf("snapshot() = %q, want %q", got, want)
	}
}

func TestTruncateMiddleKeepsHeadAndTail(t *testing.T) {
	data := bytes.Repeat([]byte("0123456789"), 100) // 1000 bytes
	out := truncateMiddle(data, 100)

	if len(out) > 100 {
		t.Fatalf("len(out) = %d, want <= 100", len(out))
	}
	if !bytes.HasPrefix(out, data[:5]) {
		t.Errorf("truncated output does not retain head: %q", out[:20])
	}
	if !bytes.HasSuffix(out, data[len(data)-5:]) {
		t.Errorf("truncated output does not retain tail")
	}
}

func TestTruncateMiddleNoopUnderLimit(t *testing.T) {
	data := []byte("short")
	if got := truncateMiddle(data, 100); string(got) != "short" {
		t.Errorf("truncateMiddle() = %q, want unchanged", got)
	}
}
