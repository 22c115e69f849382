package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/linkup-app/linkup/internal/capture"
	"github.com/linkup-app/linkup/internal/codec"
	"github.com/linkup-app/linkup/internal/device"
	"github.com/linkup-app/linkup/internal/outreach"
	"github.com/linkup-app/linkup/internal/recorder"
	"github.com/linkup-app/linkup/internal/replication"
	"github.com/linkup-app/linkup/internal/store"
	"github.com/linkup-app/linkup/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryBackend records committed connections in memory and can be told
// to fail.
type memoryBackend struct {
	mu      sync.Mutex
	records []models.ConnectionRecord
	fail    error
	block   chan struct{}
}

func (b *memoryBackend) commit(ctx context.Context, rec models.ConnectionRecord) (models.ConnectionRecord, error) {
	b.mu.Lock()
	block := b.block
	b.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return models.ConnectionRecord{}, ctx.Err()
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail != nil {
		return models.ConnectionRecord{}, b.fail
	}
	b.records = append(b.records, rec)
	return rec, nil
}

func (b *memoryBackend) setFail(err error) {
	b.mu.Lock()
	b.fail = err
	b.mu.Unlock()
}

func (b *memoryBackend) all() []models.ConnectionRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.ConnectionRecord, len(b.records))
	copy(out, b.records)
	return out
}

type engineFixture struct {
	engine   *Engine
	registry *device.Registry
	backend  *memoryBackend
	channel  *replication.Memory
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	transcribe outreach.TranscribeFunc
	draft      outreach.DraftFunc
	provider   device.Provider
}

func withTranscribe(fn outreach.TranscribeFunc) fixtureOption {
	return func(c *fixtureConfig) { c.transcribe = fn }
}

func withDraft(fn outreach.DraftFunc) fixtureOption {
	return func(c *fixtureConfig) { c.draft = fn }
}

func withProvider(p device.Provider) fixtureOption {
	return func(c *fixtureConfig) { c.provider = p }
}

func newFixture(t *testing.T, opts ...fixtureOption) *engineFixture {
	t.Helper()

	cfg := fixtureConfig{
		transcribe: func(ctx context.Context, blob []byte, filename string) (string, error) {
			return "remote transcript", nil
		},
		draft: func(ctx context.Context, dc models.DraftContext) (string, error) {
			return "remote message", nil
		},
		provider: device.NullProvider{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	registry := device.NewRegistry(cfg.provider)
	backend := &memoryBackend{}
	channel := replication.NewMemory()
	t.Cleanup(func() { channel.Close() })

	connections := store.NewConnectionStore(nil)
	detach, err := connections.Attach(channel)
	require.NoError(t, err)
	t.Cleanup(detach)

	engine := NewEngine(Deps{
		Registry:     registry,
		Transcriber:  outreach.NewTranscriber(cfg.transcribe, nil),
		Drafter:      outreach.NewDrafter(cfg.draft, nil),
		Gateway:      store.NewGateway(backend.commit, channel),
		Connections:  connections,
		Channel:      channel,
		TickInterval: time.Millisecond,
	})
	t.Cleanup(engine.Close)

	return &engineFixture{engine: engine, registry: registry, backend: backend, channel: channel}
}

func encodeProfile(t *testing.T, name string) []byte {
	t.Helper()
	payload, err := codec.Encode(models.UserProfile{
		Name:    name,
		Title:   "Engineer",
		Company: "Acme",
	})
	require.NoError(t, err)
	return payload
}

func waitForStep(t *testing.T, e *Engine, kind StepKind) Step {
	t.Helper()
	require.Eventually(t, func() bool {
		return e.Step().Kind == kind
	}, 2*time.Second, time.Millisecond, "never reached step %s", kind)
	return e.Step()
}

// runThroughRecording drives home -> scanning -> mode-selection ->
// recording and returns once capture is running.
func runThroughRecording(t *testing.T, fx *engineFixture, mode models.RecordingMode, contactName string) {
	t.Helper()
	ctx := context.Background()

	frames := capture.NewChanSource(4)
	require.NoError(t, fx.engine.StartScanning(ctx, frames))
	require.True(t, frames.Push(encodeProfile(t, contactName)))
	waitForStep(t, fx.engine, StepModeSelection)

	require.NoError(t, fx.engine.ChooseMode(mode))
	require.NoError(t, fx.engine.StartRecording(ctx, recorder.NewChunkSource(4)))
}

func TestExchangeShortModeWithRemoteFailures(t *testing.T) {
	remoteDown := errors.New("connection refused")
	fx := newFixture(t,
		withTranscribe(func(ctx context.Context, blob []byte, filename string) (string, error) {
			return "", remoteDown
		}),
		withDraft(func(ctx context.Context, dc models.DraftContext) (string, error) {
			return "", remoteDown
		}),
	)
	ctx := context.Background()

	require.NoError(t, fx.engine.BeginEventSetup())
	_, err := fx.engine.SetEvent(ctx, "TechCrunch Disrupt", nil)
	require.NoError(t, err)

	runThroughRecording(t, fx, models.ModeShort, "Al")
	require.True(t, fx.registry.Held(device.Microphone))
	require.False(t, fx.registry.Held(device.Camera))

	step := waitForStep(t, fx.engine, StepMessageReady)
	require.False(t, fx.registry.Held(device.Microphone))

	require.NotNil(t, step.Transcript)
	assert.Equal(t, models.ProvenanceFallback, step.Transcript.Source)
	assert.Equal(t, "Hi, nice meeting you at TechCrunch Disrupt!", step.Transcript.Text)

	require.NotNil(t, step.Draft)
	assert.Equal(t, models.ProvenanceFallback, step.Draft.Source)
	assert.Equal(t, "Hi Al, great meeting you at TechCrunch Disrupt! Let's stay connected.", step.Draft.Text)

	assert.Empty(t, step.PersistenceError)
	require.NotNil(t, step.Record)
	assert.Equal(t, models.ModeShort, step.Record.RecordingMode)
	assert.Equal(t, "New Connection", step.Record.PersonCategory)
	assert.Equal(t, "Al", step.Record.ContactName)

	records := fx.backend.all()
	require.Len(t, records, 1)
	assert.Equal(t, step.Record.ID, records[0].ID)

	require.Eventually(t, func() bool {
		return fx.engine.Connections() != nil && len(fx.engine.Connections()) == 1
	}, time.Second, time.Millisecond)
}

func TestExchangeExtendedModeRemoteContent(t *testing.T) {
	fx := newFixture(t)
	runThroughRecording(t, fx, models.ModeExtended, "Dana Okafor")

	fx.engine.StopRecording()
	step := waitForStep(t, fx.engine, StepMessageReady)

	assert.Equal(t, models.ProvenanceRemote, step.Transcript.Source)
	assert.Equal(t, "remote transcript", step.Transcript.Text)
	assert.Equal(t, models.ProvenanceRemote, step.Draft.Source)
	assert.Equal(t, "Potential Collaborator", step.Record.PersonCategory)
	assert.Equal(t, models.ModeExtended, step.Record.RecordingMode)
}

func TestScanningSkipsInvalidFrames(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	frames := capture.NewChanSource(4)
	require.NoError(t, fx.engine.StartScanning(ctx, frames))
	require.True(t, fx.registry.Held(device.Camera))

	frames.Push([]byte("not json"))
	frames.Push([]byte(`{"email":"no-name@example.com"}`))
	frames.Push(encodeProfile(t, "Priya Raman"))

	step := waitForStep(t, fx.engine, StepModeSelection)
	require.NotNil(t, step.Counterpart)
	assert.Equal(t, "Priya Raman", step.Counterpart.Name)
	assert.False(t, fx.registry.Held(device.Camera))
}

func TestTransitionGuards(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, fx.engine.ChooseMode(models.ModeShort), ErrInvalidTransition)
	assert.ErrorIs(t, fx.engine.StartRecording(ctx, recorder.NewChunkSource(1)), ErrInvalidTransition)
	assert.ErrorIs(t, fx.engine.RetryCommit(ctx), ErrInvalidTransition)
	assert.Error(t, fx.engine.ChooseMode(models.RecordingMode("lightning")))

	require.NoError(t, fx.engine.BeginProfileSetup())
	assert.ErrorIs(t, fx.engine.BeginEventSetup(), ErrInvalidTransition)
}

func TestCancelScanningReleasesCamera(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.engine.StartScanning(context.Background(), capture.NewChanSource(1)))
	require.True(t, fx.registry.Held(device.Camera))

	fx.engine.CancelScanning()
	assert.False(t, fx.registry.Held(device.Camera))
	assert.Equal(t, StepHome, fx.engine.Step().Kind)
}

func TestCameraUnavailableAllowsRetry(t *testing.T) {
	denied := &flakyProvider{failures: 1}
	fx := newFixture(t, withProvider(denied))
	ctx := context.Background()

	err := fx.engine.StartScanning(ctx, capture.NewChanSource(1))
	require.ErrorIs(t, err, device.ErrUnavailable)
	assert.Equal(t, StepScanning, fx.engine.Step().Kind)

	require.NoError(t, fx.engine.StartScanning(ctx, capture.NewChanSource(1)))
	assert.True(t, fx.registry.Held(device.Camera))
}

// flakyProvider fails the first n opens, then succeeds.
type flakyProvider struct {
	mu       sync.Mutex
	failures int
}

func (p *flakyProvider) Open(ctx context.Context, kind device.Kind) (device.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures > 0 {
		p.failures--
		return nil, errors.New("device busy")
	}
	return device.NullProvider{}.Open(ctx, kind)
}

func TestResetReleasesDevicesAndReturnsHome(t *testing.T) {
	fx := newFixture(t)
	runThroughRecording(t, fx, models.ModeExtended, "Sam Lee")
	require.True(t, fx.registry.Held(device.Microphone))

	fx.engine.Reset()
	assert.Equal(t, StepHome, fx.engine.Step().Kind)
	assert.False(t, fx.registry.Held(device.Microphone))
	assert.False(t, fx.registry.Held(device.Camera))
}

func TestResetDiscardsInFlightPipelineResult(t *testing.T) {
	fx := newFixture(t)
	fx.backend.block = make(chan struct{})

	runThroughRecording(t, fx, models.ModeShort, "Sam Lee")
	fx.engine.StopRecording()

	// The pipeline is now parked inside the blocked persistence call.
	fx.engine.Reset()
	close(fx.backend.block)

	// The result arrives under a stale epoch and must not surface.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StepHome, fx.engine.Step().Kind)
}

func TestPersistenceFailureSurfacedAndRetryable(t *testing.T) {
	fx := newFixture(t)
	fx.backend.setFail(errors.New("backend unreachable"))

	runThroughRecording(t, fx, models.ModeShort, "Jo Park")
	fx.engine.StopRecording()

	step := waitForStep(t, fx.engine, StepMessageReady)
	require.NotEmpty(t, step.PersistenceError)
	require.NotNil(t, step.Transcript)
	require.NotNil(t, step.Draft)
	assert.Empty(t, fx.backend.all())

	// First retry fails again and keeps the error surfaced.
	require.ErrorIs(t, fx.engine.RetryCommit(context.Background()), store.ErrPersistence)
	assert.NotEmpty(t, fx.engine.Step().PersistenceError)

	fx.backend.setFail(nil)
	require.NoError(t, fx.engine.RetryCommit(context.Background()))

	step = fx.engine.Step()
	assert.Empty(t, step.PersistenceError)
	require.Len(t, fx.backend.all(), 1)
	assert.Equal(t, "Jo Park", fx.backend.all()[0].ContactName)
}

func TestProfileAndEventSetupRoundTrip(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	require.NoError(t, fx.engine.BeginProfileSetup())
	profile, err := fx.engine.CompleteProfileSetup(ctx, models.CreateUserProfile{
		Name: "Robin Shah", Company: "Nimbus",
	})
	require.NoError(t, err)
	assert.Equal(t, "Robin Shah", profile.Name)
	assert.Equal(t, StepHome, fx.engine.Step().Kind)
	require.NotNil(t, fx.engine.Profile())

	require.NoError(t, fx.engine.BeginEventSetup())
	event, err := fx.engine.SetEvent(ctx, "GopherCon", &models.GeoPoint{Lat: 37.77, Lng: -122.41})
	require.NoError(t, err)
	assert.Equal(t, "GopherCon", event.Name)
	require.NotNil(t, fx.engine.Event())
	assert.Equal(t, "GopherCon", fx.engine.Event().Name)

	_, err = fx.engine.SetEvent(ctx, "", nil)
	assert.Error(t, err)
}

func TestConnectionsReplicateBetweenEngines(t *testing.T) {
	channel := replication.NewMemory()
	defer channel.Close()

	build := func() (*Engine, *memoryBackend, *store.ConnectionStore) {
		backend := &memoryBackend{}
		connections := store.NewConnectionStore(nil)
		detach, err := connections.Attach(channel)
		require.NoError(t, err)
		t.Cleanup(detach)

		e := NewEngine(Deps{
			Registry: device.NewRegistry(device.NullProvider{}),
			Transcriber: outreach.NewTranscriber(func(ctx context.Context, blob []byte, filename string) (string, error) {
				return "remote transcript", nil
			}, nil),
			Drafter: outreach.NewDrafter(func(ctx context.Context, dc models.DraftContext) (string, error) {
				return "remote message", nil
			}, nil),
			Gateway:      store.NewGateway(backend.commit, channel),
			Connections:  connections,
			Channel:      channel,
			TickInterval: time.Millisecond,
		})
		t.Cleanup(e.Close)
		return e, backend, connections
	}

	engineA, _, storeA := build()
	_, _, storeB := build()

	frames := capture.NewChanSource(4)
	require.NoError(t, engineA.StartScanning(context.Background(), frames))
	frames.Push(encodeProfile(t, "Casey Nguyen"))
	waitForStep(t, engineA, StepModeSelection)
	require.NoError(t, engineA.ChooseMode(models.ModeShort))
	require.NoError(t, engineA.StartRecording(context.Background(), recorder.NewChunkSource(1)))
	engineA.StopRecording()
	waitForStep(t, engineA, StepMessageReady)

	require.Eventually(t, func() bool {
		return storeA.Len() == 1 && storeB.Len() == 1
	}, 2*time.Second, time.Millisecond)

	got := storeB.List()
	require.Len(t, got, 1)
	assert.Equal(t, "Casey Nguyen", got[0].ContactName)
}

func TestStepEventsReachSubscribers(t *testing.T) {
	fx := newFixture(t)

	var mu sync.Mutex
	var kinds []StepKind
	cancel := fx.engine.Subscribe(func(ev Event) {
		if ev.Type == EventStep {
			mu.Lock()
			kinds = append(kinds, ev.Step.Kind)
			mu.Unlock()
		}
	})
	defer cancel()

	require.NoError(t, fx.engine.BeginProfileSetup())
	fx.engine.Reset()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(kinds) >= 2
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, kinds, StepProfileSetup)
	assert.Contains(t, kinds, StepHome)
}

func TestStepEventsArriveInTransitionOrder(t *testing.T) {
	fx := newFixture(t)

	var mu sync.Mutex
	var kinds []StepKind
	cancel := fx.engine.Subscribe(func(ev Event) {
		if ev.Type == EventStep {
			mu.Lock()
			kinds = append(kinds, ev.Step.Kind)
			mu.Unlock()
		}
	})
	defer cancel()

	// Back-to-back transitions with no pause between them.
	for i := 0; i < 5; i++ {
		require.NoError(t, fx.engine.BeginProfileSetup())
		fx.engine.Reset()
	}

	want := []StepKind{}
	for i := 0; i < 5; i++ {
		want = append(want, StepProfileSetup, StepHome)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(kinds) >= len(want)
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, want, kinds[:len(want)])
}

func TestOpenConnectionsFromMessageReady(t *testing.T) {
	fx := newFixture(t)
	runThroughRecording(t, fx, models.ModeShort, "Mia Torres")
	fx.engine.StopRecording()
	waitForStep(t, fx.engine, StepMessageReady)

	require.NoError(t, fx.engine.OpenConnections())
	assert.Equal(t, StepConnectionsList, fx.engine.Step().Kind)
}
