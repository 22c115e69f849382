package linkupd

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/linkup-app/linkup/internal/codec"
	"github.com/linkup-app/linkup/internal/config"
	"github.com/linkup-app/linkup/internal/device"
	"github.com/linkup-app/linkup/internal/outreach"
	"github.com/linkup-app/linkup/internal/replication"
	"github.com/linkup-app/linkup/internal/session"
	"github.com/linkup-app/linkup/internal/store"
	"github.com/linkup-app/linkup/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testService creates a Service over an engine with in-memory collaborators.
func testService(t *testing.T) (*Service, *recordingBackend) {
	t.Helper()

	backend := &recordingBackend{}
	channel := replication.NewMemory()
	t.Cleanup(func() { channel.Close() })

	connections := store.NewConnectionStore(nil)
	detach, err := connections.Attach(channel)
	require.NoError(t, err)
	t.Cleanup(detach)

	engine := session.NewEngine(session.Deps{
		Registry: device.NewRegistry(device.NullProvider{}),
		Transcriber: outreach.NewTranscriber(func(ctx context.Context, blob []byte, filename string) (string, error) {
			return "we talked about the roadmap", nil
		}, nil),
		Drafter: outreach.NewDrafter(func(ctx context.Context, dc models.DraftContext) (string, error) {
			return "Great to meet you, " + dc.ContactName, nil
		}, nil),
		Gateway:      store.NewGateway(backend.commit, channel),
		Connections:  connections,
		Channel:      channel,
		TickInterval: time.Millisecond,
	})

	svc := NewService("test-version", config.Default(), engine)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return svc, backend
}

type recordingBackend struct {
	mu      sync.Mutex
	records []models.ConnectionRecord
}

func (b *recordingBackend) commit(ctx context.Context, rec models.ConnectionRecord) (models.ConnectionRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = append(b.records, rec)
	return rec, nil
}

func (b *recordingBackend) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}

func doJSON(t *testing.T, svc *Service, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	svc.router.ServeHTTP(rec, req)
	return rec
}

func doRaw(t *testing.T, svc *Service, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	svc.router.ServeHTTP(rec, req)
	return rec
}

func stepKind(t *testing.T, svc *Service) session.StepKind {
	t.Helper()
	rec := doJSON(t, svc, http.MethodGet, "/api/session", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var step session.Step
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &step))
	return step.Kind
}

func waitForKind(t *testing.T, svc *Service, kind session.StepKind) {
	t.Helper()
	require.Eventually(t, func() bool {
		req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
		rec := httptest.NewRecorder()
		svc.router.ServeHTTP(rec, req)
		var step session.Step
		if err := json.Unmarshal(rec.Body.Bytes(), &step); err != nil {
			return false
		}
		return step.Kind == kind
	}, 2*time.Second, time.Millisecond)
}

func TestHandleHealth(t *testing.T) {
	svc, _ := testService(t)

	rec := doJSON(t, svc, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test-version", body["version"])
	assert.Equal(t, true, body["ready"])
}

func TestHandleProfileLifecycle(t *testing.T) {
	svc, _ := testService(t)

	rec := doJSON(t, svc, http.MethodGet, "/api/profile", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, svc, http.MethodPost, "/api/profile/setup", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, svc, http.MethodPost, "/api/profile", models.CreateUserProfile{
		Name: "Robin Shah", Title: "PM", Company: "Nimbus",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var profile models.UserProfile
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &profile))
	assert.Equal(t, "Robin Shah", profile.Name)

	rec = doJSON(t, svc, http.MethodGet, "/api/profile", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, session.StepHome, stepKind(t, svc))
}

func TestHandleProfileValidation(t *testing.T) {
	svc, _ := testService(t)

	rec := doJSON(t, svc, http.MethodPost, "/api/profile/setup", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, svc, http.MethodPost, "/api/profile", map[string]string{"title": "PM"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRaw(t, svc, http.MethodPost, "/api/profile", []byte("{{nope"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleEventLifecycle(t *testing.T) {
	svc, _ := testService(t)

	rec := doJSON(t, svc, http.MethodPost, "/api/event/setup", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, svc, http.MethodPost, "/api/event", map[string]any{
		"name":     "GopherCon",
		"location": map[string]float64{"lat": 37.77, "lng": -122.41},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, svc, http.MethodGet, "/api/event", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var event models.EventContext
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &event))
	assert.Equal(t, "GopherCon", event.Name)
	require.NotNil(t, event.Location)
	assert.InDelta(t, 37.77, event.Location.Lat, 0.001)
}

func TestHandleEventRequiresName(t *testing.T) {
	svc, _ := testService(t)

	rec := doJSON(t, svc, http.MethodPost, "/api/event/setup", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, svc, http.MethodPost, "/api/event", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFullExchangeOverHTTP(t *testing.T) {
	svc, backend := testService(t)

	rec := doJSON(t, svc, http.MethodPost, "/api/scan/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// An undecodable frame is accepted and skipped.
	rec = doRaw(t, svc, http.MethodPost, "/api/scan/frame", []byte("static noise"))
	require.Equal(t, http.StatusAccepted, rec.Code)

	payload, err := codec.Encode(models.UserProfile{Name: "Casey Nguyen", Company: "Acme"})
	require.NoError(t, err)
	rec = doRaw(t, svc, http.MethodPost, "/api/scan/frame", payload)
	require.Equal(t, http.StatusAccepted, rec.Code)

	waitForKind(t, svc, session.StepModeSelection)

	rec = doJSON(t, svc, http.MethodPost, "/api/mode", map[string]string{"mode": "introduction"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, svc, http.MethodPost, "/api/record/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRaw(t, svc, http.MethodPost, "/api/record/chunk", []byte{1, 2, 3, 4})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = doJSON(t, svc, http.MethodPost, "/api/record/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	waitForKind(t, svc, session.StepMessageReady)
	require.Equal(t, 1, backend.count())

	require.Eventually(t, func() bool {
		r := doJSON(t, svc, http.MethodGet, "/api/connections", nil)
		var body struct {
			Connections []models.ConnectionRecord `json:"connections"`
		}
		if err := json.Unmarshal(r.Body.Bytes(), &body); err != nil {
			return false
		}
		return len(body.Connections) == 1 && body.Connections[0].ContactName == "Casey Nguyen"
	}, 2*time.Second, 5*time.Millisecond)

	rec = doJSON(t, svc, http.MethodPost, "/api/connections/view", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, session.StepConnectionsList, stepKind(t, svc))
}

func TestTransitionConflictsOverHTTP(t *testing.T) {
	svc, _ := testService(t)

	rec := doJSON(t, svc, http.MethodPost, "/api/mode", map[string]string{"mode": "introduction"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, svc, http.MethodPost, "/api/mode", map[string]string{"mode": "lightning"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, svc, http.MethodPost, "/api/record/start", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doRaw(t, svc, http.MethodPost, "/api/scan/frame", []byte("frame"))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doRaw(t, svc, http.MethodPost, "/api/record/chunk", []byte("chunk"))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestScanCancelReturnsHome(t *testing.T) {
	svc, _ := testService(t)

	rec := doJSON(t, svc, http.MethodPost, "/api/scan/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, svc, http.MethodPost, "/api/scan/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, session.StepHome, stepKind(t, svc))
}

func TestResetFromAnywhere(t *testing.T) {
	svc, _ := testService(t)

	rec := doJSON(t, svc, http.MethodPost, "/api/scan/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, svc, http.MethodPost, "/api/session/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, session.StepHome, stepKind(t, svc))
}

func TestFallbackPreview(t *testing.T) {
	svc, _ := testService(t)

	rec := doJSON(t, svc, http.MethodGet, "/api/fallback-preview?mode=conversation&contact=Al", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Great conversation at the event. Let's stay in touch!", body["transcript"])
	assert.Equal(t, "Hi Al, great meeting you at the event! Let's stay connected.", body["message"])
}

func TestEventStreamDeliversStepEvents(t *testing.T) {
	svc, _ := testService(t)

	server := httptest.NewServer(svc.Router())
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool {
		return svc.broadcaster.ClientCount() == 1
	}, time.Second, time.Millisecond)

	rec := doJSON(t, svc, http.MethodPost, "/api/profile/setup", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	buf := make([]byte, 4096)
	deadline := time.Now().Add(2 * time.Second)
	var got []byte
	for time.Now().Before(deadline) {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			got = append(got, buf[:n]...)
			if bytes.Contains(got, []byte("profile-setup")) {
				return
			}
		}
		if err != nil {
			break
		}
	}
	t.Fatalf("step event never observed on stream: %q", got)
}
