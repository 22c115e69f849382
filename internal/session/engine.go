package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/linkup-app/linkup/internal/capture"
	"github.com/linkup-app/linkup/internal/caption"
	"github.com/linkup-app/linkup/internal/device"
	"github.com/linkup-app/linkup/internal/localstore"
	"github.com/linkup-app/linkup/internal/metrics"
	"github.com/linkup-app/linkup/internal/outreach"
	"github.com/linkup-app/linkup/internal/recorder"
	"github.com/linkup-app/linkup/internal/replication"
	"github.com/linkup-app/linkup/internal/store"
	"github.com/linkup-app/linkup/pkg/models"
	"github.com/rs/zerolog/log"
)

// ErrInvalidTransition is returned for a user intent that is not legal
// from the current step.
var ErrInvalidTransition = errors.New("session: invalid transition")

// CreateProfileFunc registers the user profile with the backend. Satisfied
// by (*remote.Client).CreateProfile.
type CreateProfileFunc func(ctx context.Context, req models.CreateUserProfile) (models.UserProfile, error)

// EventType classifies engine notifications.
type EventType string

const (
	// EventStep is emitted on every step transition.
	EventStep EventType = "step"
	// EventCaption carries one cosmetic live caption while recording.
	EventCaption EventType = "caption"
	// EventConnection is emitted when a record merges into the store.
	EventConnection EventType = "connection"
)

// Event is one engine notification.
type Event struct {
	Type       EventType                `json:"type"`
	Step       *Step                    `json:"step,omitempty"`
	Caption    string                   `json:"caption,omitempty"`
	Connection *models.ConnectionRecord `json:"connection,omitempty"`
}

// Deps are the injected collaborators. Registry, Transcriber, Drafter,
// Gateway, and Connections are required; the rest are optional.
type Deps struct {
	Registry      *device.Registry
	Transcriber   *outreach.Transcriber
	Drafter       *outreach.Drafter
	Gateway       *store.Gateway
	Connections   *store.ConnectionStore
	Local         *localstore.Store
	Channel       replication.Channel
	CreateProfile CreateProfileFunc
	Captions      *caption.Simulator
	Metrics       *metrics.Engine

	// TickInterval is the recorder tick length; defaults to
	// recorder.DefaultTickInterval.
	TickInterval time.Duration
}

// Engine is the session state machine. All transitions run under one lock;
// component completions re-enter through callbacks that take the same
// lock, so there is a single logical thread of control.
type Engine struct {
	deps Deps

	scanner *capture.Controller
	rec     *recorder.Recorder

	mu    sync.Mutex
	step  Step
	epoch uint64
	user  *models.UserProfile
	event *models.EventContext

	// captionCancel stops the caption stream of the running recording.
	captionCancel context.CancelFunc

	ctx    context.Context
	cancel context.CancelFunc

	listenerMu sync.Mutex
	listeners  map[int]func(Event)
	nextID     int

	// events feeds the single dispatch goroutine so listeners observe
	// transitions in the order they happened.
	events chan Event
}

// NewEngine constructs the engine and warm-loads the cached profile and
// event from the local store.
func NewEngine(deps Deps) *Engine {
	if deps.TickInterval <= 0 {
		deps.TickInterval = recorder.DefaultTickInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		deps:      deps,
		step:      home(),
		ctx:       ctx,
		cancel:    cancel,
		listeners: make(map[int]func(Event)),
		events:    make(chan Event, 128),
	}
	go e.dispatch()

	e.scanner = capture.NewController(deps.Registry, e.onScanned)
	e.rec = recorder.New(deps.Registry, e.onRecordingFinalized,
		recorder.WithTickInterval(deps.TickInterval))

	if deps.Local != nil {
		if p, err := deps.Local.Profile(); err == nil {
			e.user = &p
		}
		if ev, err := deps.Local.Event(); err == nil {
			e.event = &ev
		}
	}
	if deps.Connections != nil {
		deps.Connections.SetOnMerge(func(rec models.ConnectionRecord) {
			e.publish(Event{Type: EventConnection, Connection: &rec})
		})
	}
	return e
}

// Close tears the engine down, releasing any held device.
func (e *Engine) Close() {
	e.Reset()
	e.cancel()
}

// Subscribe registers a notification listener and returns its cancel func.
func (e *Engine) Subscribe(fn func(Event)) func() {
	e.listenerMu.Lock()
	e.nextID++
	id := e.nextID
	e.listeners[id] = fn
	e.listenerMu.Unlock()

	return func() {
		e.listenerMu.Lock()
		delete(e.listeners, id)
		e.listenerMu.Unlock()
	}
}

// publish queues an event for the dispatch goroutine. It never blocks;
// callers may hold e.mu and a listener could be calling back into the
// engine, so a full backlog drops the event instead of deadlocking.
func (e *Engine) publish(ev Event) {
	select {
	case e.events <- ev:
	default:
		log.Warn().Str("type", string(ev.Type)).Msg("Event backlog full, dropping event")
	}
}

func (e *Engine) dispatch() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case ev := <-e.events:
			e.notify(ev)
		}
	}
}

func (e *Engine) notify(ev Event) {
	e.listenerMu.Lock()
	fns := make([]func(Event), 0, len(e.listeners))
	for _, fn := range e.listeners {
		fns = append(fns, fn)
	}
	e.listenerMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// setStep replaces the current step and notifies listeners. Callers hold
// e.mu.
func (e *Engine) setStep(next Step) {
	e.step = next
	snapshot := next.clone()
	log.Debug().Str("step", string(next.Kind)).Msg("Step transition")
	e.publish(Event{Type: EventStep, Step: &snapshot})
}

// Step returns a snapshot of the current step.
func (e *Engine) Step() Step {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.step.clone()
}

// Profile returns the cached user profile, if any.
func (e *Engine) Profile() *models.UserProfile {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.user == nil {
		return nil
	}
	p := *e.user
	return &p
}

// Event returns the current event context, if any.
func (e *Engine) Event() *models.EventContext {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.event == nil {
		return nil
	}
	ev := *e.event
	return &ev
}

// Connections lists the merged connection records, newest first.
func (e *Engine) Connections() []models.ConnectionRecord {
	if e.deps.Connections == nil {
		return nil
	}
	return e.deps.Connections.List()
}

// BeginProfileSetup enters the profile form. Legal from home.
func (e *Engine) BeginProfileSetup() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.step.Kind != StepHome {
		return fmt.Errorf("%w: %s -> profile-setup", ErrInvalidTransition, e.step.Kind)
	}
	e.setStep(Step{Kind: StepProfileSetup})
	return nil
}

// CompleteProfileSetup registers the profile with the backend, caches it,
// replicates it, and returns to home.
func (e *Engine) CompleteProfileSetup(ctx context.Context, req models.CreateUserProfile) (models.UserProfile, error) {
	e.mu.Lock()
	if e.step.Kind != StepProfileSetup {
		e.mu.Unlock()
		return models.UserProfile{}, fmt.Errorf("%w: %s -> home", ErrInvalidTransition, e.step.Kind)
	}
	e.mu.Unlock()

	var profile models.UserProfile
	if e.deps.CreateProfile != nil {
		var err error
		profile, err = e.deps.CreateProfile(ctx, req)
		if err != nil {
			return models.UserProfile{}, err
		}
	} else {
		profile = models.UserProfile{
			Name: req.Name, LinkedInURL: req.LinkedInURL, Email: req.Email,
			Title: req.Title, Company: req.Company, CreatedAt: time.Now().UTC(),
		}
	}

	if e.deps.Local != nil {
		if err := e.deps.Local.SetProfile(profile); err != nil {
			log.Warn().Err(err).Msg("Profile not cached locally")
		}
	}
	if err := store.PublishProfile(ctx, e.deps.Channel, profile); err != nil {
		log.Warn().Err(err).Msg("Profile not replicated")
	}

	e.mu.Lock()
	e.user = &profile
	e.setStep(home())
	e.mu.Unlock()
	return profile, nil
}

// BeginEventSetup enters the event form. Legal from home.
func (e *Engine) BeginEventSetup() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.step.Kind != StepHome {
		return fmt.Errorf("%w: %s -> event-setup", ErrInvalidTransition, e.step.Kind)
	}
	e.setStep(Step{Kind: StepEventSetup})
	return nil
}

// SetEvent records the current event, caches it, replicates it under the
// events namespace, and returns to home.
func (e *Engine) SetEvent(ctx context.Context, name string, location *models.GeoPoint) (models.EventContext, error) {
	if name == "" {
		return models.EventContext{}, fmt.Errorf("session: event name required")
	}

	e.mu.Lock()
	if e.step.Kind != StepEventSetup {
		e.mu.Unlock()
		return models.EventContext{}, fmt.Errorf("%w: %s -> home", ErrInvalidTransition, e.step.Kind)
	}
	e.mu.Unlock()

	event := models.EventContext{Name: name, Location: location, Timestamp: time.Now().UTC()}

	if e.deps.Local != nil {
		if err := e.deps.Local.SetEvent(event); err != nil {
			log.Warn().Err(err).Msg("Event not cached locally")
		}
	}
	if err := store.PublishEvent(ctx, e.deps.Channel, event); err != nil {
		log.Warn().Err(err).Msg("Event not replicated")
	}

	e.mu.Lock()
	e.event = &event
	e.setStep(home())
	e.mu.Unlock()
	return event, nil
}

// StartScanning enters the scanning step and starts the capture
// controller. A device acquisition failure leaves the step entered so the
// user may retry with RetryScan; any other start failure is returned as-is.
func (e *Engine) StartScanning(ctx context.Context, frames capture.FrameSource) error {
	e.mu.Lock()
	if e.step.Kind != StepHome && e.step.Kind != StepScanning {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s -> scanning", ErrInvalidTransition, e.step.Kind)
	}
	if e.step.Kind != StepScanning {
		e.setStep(Step{Kind: StepScanning})
	}
	e.mu.Unlock()

	if err := e.scanner.Start(ctx, frames); err != nil {
		if errors.Is(err, device.ErrUnavailable) {
			// Recoverable: stay in scanning, the user may retry
			log.Warn().Err(err).Msg("Camera unavailable, scan step stays entered")
		}
		return err
	}
	return nil
}

// CancelScanning stops any running scan, releasing the camera before the
// step transition completes, and returns home.
func (e *Engine) CancelScanning() {
	e.scanner.Stop()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.step.Kind == StepScanning {
		e.setStep(home())
	}
}

// onScanned is the capture completion callback. The controller has already
// released the camera by the time it fires.
func (e *Engine) onScanned(profile models.CounterpartProfile) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.step.Kind != StepScanning {
		// The session moved on (reset or cancel) while the decode was in
		// flight; discard the result.
		log.Debug().Str("counterpart", profile.Name).Msg("Stale scan result discarded")
		return
	}
	e.setStep(Step{Kind: StepModeSelection, Counterpart: &profile})
}

// ChooseMode selects the recording mode and enters the recording step.
// Guard: a non-nil counterpart is required.
func (e *Engine) ChooseMode(mode models.RecordingMode) error {
	if !mode.Valid() {
		return fmt.Errorf("session: unknown recording mode %q", mode)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.step.Kind != StepModeSelection || e.step.Counterpart == nil {
		return fmt.Errorf("%w: %s -> recording", ErrInvalidTransition, e.step.Kind)
	}
	e.setStep(Step{Kind: StepRecording, Counterpart: e.step.Counterpart, Mode: mode})
	return nil
}

// StartRecording begins the timed capture for the previously chosen mode.
// Device acquisition failure leaves the recording step entered for retry.
func (e *Engine) StartRecording(ctx context.Context, audio recorder.AudioSource) error {
	e.mu.Lock()
	if e.step.Kind != StepRecording || e.step.Counterpart == nil {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s -> recording", ErrInvalidTransition, e.step.Kind)
	}
	mode := e.step.Mode
	e.mu.Unlock()

	if err := e.rec.Start(ctx, mode, audio); err != nil {
		if errors.Is(err, device.ErrUnavailable) {
			log.Warn().Err(err).Msg("Microphone unavailable, recording step stays entered")
		}
		return err
	}

	if e.deps.Metrics != nil {
		e.deps.Metrics.SessionStarted(ctx, string(mode))
	}
	e.startCaptions(mode)
	return nil
}

// StopRecording requests a manual stop. Racing the deadline is safe: the
// first stop wins and the other is a no-op.
func (e *Engine) StopRecording() {
	e.rec.Stop()
}

// RecordingElapsed returns the elapsed tick count of the running capture.
func (e *Engine) RecordingElapsed() int {
	return e.rec.Elapsed()
}

// startCaptions streams cosmetic captions to listeners while recording.
// Never feeds persisted data.
func (e *Engine) startCaptions(mode models.RecordingMode) {
	if e.deps.Captions == nil {
		return
	}
	ctx, cancel := context.WithCancel(e.ctx)

	e.mu.Lock()
	e.captionCancel = cancel
	e.mu.Unlock()

	go func() {
		for phrase := range e.deps.Captions.Run(ctx, mode) {
			e.publish(Event{Type: EventCaption, Caption: phrase})
		}
	}()
}

func (e *Engine) stopCaptions() {
	e.mu.Lock()
	cancel := e.captionCancel
	e.captionCancel = nil
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// OpenConnections enters the connections list. Legal from home and
// message-ready (the "done" path).
func (e *Engine) OpenConnections() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.step.Kind {
	case StepHome, StepMessageReady, StepConnectionsList:
		e.setStep(Step{Kind: StepConnectionsList})
		return nil
	default:
		return fmt.Errorf("%w: %s -> connections-list", ErrInvalidTransition, e.step.Kind)
	}
}

// Reset returns to home from any state. Owned device resources are
// released synchronously before the transition completes, and any
// in-flight pipeline results are discarded when they arrive.
func (e *Engine) Reset() {
	e.scanner.Stop()
	e.rec.Stop()
	e.stopCaptions()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.epoch++
	if e.step.Kind != StepHome {
		e.setStep(home())
	}
}
