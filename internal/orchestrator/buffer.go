package orchestrator

import (
	"strings"
	"sync"

	"forge/internal/script"
)

// Chunk is one piece of script output tagged with its channel.
type Chunk struct {
	Channel script.Channel
	Data    string
}

// Buffer accumulates streamed output chunks for the run in progress.
// Chunks keep arrival order, so per-channel ordering matches what the
// script produced; the TUI snapshots the buffer to show live progress.
type Buffer struct {
	mu     sync.Mutex
	chunks []Chunk
}

// Append records one chunk. Called from the runner's reader goroutines.
func (b *Buffer) Append(channel script.Channel, data []byte) {
	if len(data) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chunks = append(b.chunks, Chunk{Channel: channel, Data: string(data)})
}

// Snapshot returns a copy of the chunks recorded so far.
func (b *Buffer) Snapshot() []Chunk {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Chunk, len(b.chunks))
	copy(out, b.chunks)
	return out
}

// Text flattens the buffer into a single string in arrival order.
func (b *Buffer) Text() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var sb strings.Builder
	for _, chunk := range b.chunks {
		sb.WriteString(chunk.Data)
	}
	return sb.String()
}

// Reset clears the buffer for a new run.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chunks = nil
}
