// Package recorder provides the deadline-governed audio capture used for a
// recording session. The microphone is held for exactly the lifetime of one
// session: acquired on start, released exactly once on every stop path,
// whether the deadline fired, the user stopped early, or the session was
// reset while capture was in flight.
package recorder

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/linkup-app/linkup/internal/device"
	"github.com/linkup-app/linkup/pkg/models"
	"github.com/rs/zerolog/log"
)

// ErrSessionActive is returned when a start is requested while a recording
// session is already running. At most one session is active system-wide.
var ErrSessionActive = errors.New("recorder: recording session already active")

// DefaultTickInterval is the wall-clock length of one elapsed tick.
const DefaultTickInterval = time.Second

// AudioSource supplies buffered audio chunks from the opened microphone.
// The channel may close early if the underlying stream ends.
type AudioSource interface {
	Chunks() <-chan []byte
}

// Finalized delivers the single audio blob produced by a stopped session,
// together with the mode and the elapsed tick count at stop.
type Finalized func(blob []byte, mode models.RecordingMode, elapsed int)

// Progress reports elapsed ticks while recording, for UI countdowns. May be
// nil.
type Progress func(elapsed, deadline int)

// Recorder starts and stops timed recording sessions.
type Recorder struct {
	registry     *device.Registry
	onFinalized  Finalized
	onProgress   Progress
	tickInterval time.Duration

	mu      sync.Mutex
	current *session
}

// session is one bounded capture. Created on start, destroyed on stop.
type session struct {
	rec     *Recorder
	mode    models.RecordingMode
	lease   *device.Lease
	cancel  context.CancelFunc
	stop    sync.Once
	mu      sync.Mutex
	buf     bytes.Buffer
	elapsed int
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithTickInterval overrides the tick length. Tests use a short interval to
// run deadlines deterministically fast.
func WithTickInterval(d time.Duration) Option {
	return func(r *Recorder) { r.tickInterval = d }
}

// WithProgress registers an elapsed-tick observer.
func WithProgress(p Progress) Option {
	return func(r *Recorder) { r.onProgress = p }
}

// New creates a recorder that hands finalized blobs to onFinalized.
func New(registry *device.Registry, onFinalized Finalized, opts ...Option) *Recorder {
	r := &Recorder{
		registry:     registry,
		onFinalized:  onFinalized,
		tickInterval: DefaultTickInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start acquires the microphone and begins a session in the given mode.
// Returns ErrSessionActive if one is already running, or a wrapped
// device.ErrUnavailable when the microphone cannot be opened (the caller
// may retry).
func (r *Recorder) Start(ctx context.Context, mode models.RecordingMode, audio AudioSource) error {
	r.mu.Lock()
	if r.current != nil {
		r.mu.Unlock()
		return ErrSessionActive
	}
	r.mu.Unlock()

	lease, err := r.registry.Acquire(ctx, device.Microphone)
	if err != nil {
		if errors.Is(err, device.ErrHeld) {
			// A concurrent Start won the microphone first.
			return ErrSessionActive
		}
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	s := &session{rec: r, mode: mode, lease: lease, cancel: cancel}

	r.mu.Lock()
	if r.current != nil {
		// Lost the race to a concurrent Start
		r.mu.Unlock()
		cancel()
		lease.Release()
		return ErrSessionActive
	}
	r.current = s
	r.mu.Unlock()

	log.Info().Str("mode", string(mode)).Int("deadlineTicks", mode.DeadlineTicks()).
		Msg("Recording session started")

	go s.captureLoop(runCtx, audio)
	go s.deadlineLoop(runCtx)
	return nil
}

// Stop ends the current session, if any. Equivalent to the deadline firing:
// idempotent, finalizes the buffered audio and releases the microphone
// exactly once.
func (r *Recorder) Stop() {
	r.mu.Lock()
	s := r.current
	r.mu.Unlock()

	if s != nil {
		s.finish("manual stop")
	}
}

// Active reports whether a recording session is running.
func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current != nil
}

// Elapsed returns the elapsed tick count of the running session, or 0.
func (r *Recorder) Elapsed() int {
	r.mu.Lock()
	s := r.current
	r.mu.Unlock()

	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elapsed
}

// captureLoop appends audio chunks to the session buffer until stop.
func (s *session) captureLoop(ctx context.Context, audio AudioSource) {
	if audio == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-audio.Chunks():
			if !ok {
				return
			}
			s.mu.Lock()
			s.buf.Write(chunk)
			s.mu.Unlock()
		}
	}
}

// deadlineLoop counts ticks and auto-stops when elapsed reaches the mode's
// deadline. A manual stop races the timer; whichever occurs first wins and
// the other is a no-op.
func (s *session) deadlineLoop(ctx context.Context) {
	deadline := s.mode.DeadlineTicks()
	ticker := time.NewTicker(s.rec.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Parent context died mid-session. The Once makes this a no-op
			// when the cancellation came from finish itself.
			s.finish("context cancelled")
			return
		case <-ticker.C:
			s.mu.Lock()
			s.elapsed++
			elapsed := s.elapsed
			s.mu.Unlock()

			if s.rec.onProgress != nil {
				s.rec.onProgress(elapsed, deadline)
			}
			if elapsed >= deadline {
				s.finish("deadline reached")
				return
			}
		}
	}
}

// finish stops the session exactly once: halts the loops, finalizes the
// buffer into a single blob, releases the microphone, and hands the blob
// downstream.
func (s *session) finish(reason string) {
	s.stop.Do(func() {
		s.cancel()

		s.mu.Lock()
		blob := make([]byte, s.buf.Len())
		copy(blob, s.buf.Bytes())
		elapsed := s.elapsed
		s.mu.Unlock()

		s.lease.Release()

		s.rec.mu.Lock()
		if s.rec.current == s {
			s.rec.current = nil
		}
		s.rec.mu.Unlock()

		log.Info().Str("reason", reason).Int("elapsedTicks", elapsed).
			Int("blobBytes", len(blob)).Msg("Recording session finalized")

		if s.rec.onFinalized != nil {
			s.rec.onFinalized(blob, s.mode, elapsed)
		}
	})
}
