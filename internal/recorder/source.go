package recorder

import "sync"

// ChunkSource is an AudioSource fed by Push, used where audio arrives over
// an API boundary instead of from an in-process microphone stream.
type ChunkSource struct {
	ch     chan []byte
	mu     sync.Mutex
	closed bool
}

// NewChunkSource creates a buffered push source.
func NewChunkSource(buffer int) *ChunkSource {
	return &ChunkSource{ch: make(chan []byte, buffer)}
}

// Chunks implements AudioSource.
func (s *ChunkSource) Chunks() <-chan []byte { return s.ch }

// Push offers one audio chunk. Drops the chunk if the buffer is full or the
// source is closed.
func (s *ChunkSource) Push(chunk []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- chunk:
		return true
	default:
		return false
	}
}

// Close ends the stream.
func (s *ChunkSource) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
