package capture

import "sync"

// ChanSource is a FrameSource fed by Push, used where candidate payloads
// arrive over an API boundary instead of from an in-process detector.
type ChanSource struct {
	ch     chan []byte
	mu     sync.Mutex
	closed bool
}

// NewChanSource creates a buffered push source.
func NewChanSource(buffer int) *ChanSource {
	return &ChanSource{ch: make(chan []byte, buffer)}
}

// Frames implements FrameSource.
func (s *ChanSource) Frames() <-chan []byte { return s.ch }

// Push offers one candidate payload. Drops the frame if the buffer is full
// or the source is closed; frame delivery is best-effort.
func (s *ChanSource) Push(frame []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- frame:
		return true
	default:
		return false
	}
}

// Close ends the stream.
func (s *ChanSource) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
