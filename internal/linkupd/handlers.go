package linkupd

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/linkup-app/linkup/internal/capture"
	"github.com/linkup-app/linkup/internal/device"
	"github.com/linkup-app/linkup/internal/recorder"
	"github.com/linkup-app/linkup/internal/session"
	"github.com/linkup-app/linkup/pkg/models"
	"github.com/rs/zerolog/log"
)

// maxBodyBytes bounds frame and audio chunk uploads.
const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Response write failed")
	}
}

// writeError maps engine errors onto HTTP statuses: transition guards and
// held devices are conflicts, an unopenable device is a retryable 503.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrInvalidTransition),
		errors.Is(err, device.ErrHeld),
		errors.Is(err, recorder.ErrSessionActive):
		status = http.StatusConflict
	case errors.Is(err, device.ErrUnavailable):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"version":       s.version,
		"ready":         s.ready.Load(),
		"uptimeSeconds": int(time.Since(s.startTime).Seconds()),
		"sseClients":    s.broadcaster.ClientCount(),
	})
}

func (s *Service) handleSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Step())
}

func (s *Service) handleReset(w http.ResponseWriter, r *http.Request) {
	s.engine.Reset()
	s.setFrames(nil)
	s.setAudio(nil)
	writeJSON(w, http.StatusOK, s.engine.Step())
}

func (s *Service) handleRetryCommit(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.RetryCommit(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Step())
}

func (s *Service) handleProfileSetup(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.BeginProfileSetup(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Step())
}

func (s *Service) handleProfileComplete(w http.ResponseWriter, r *http.Request) {
	var req models.CreateUserProfile
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid profile body"})
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}

	profile, err := s.engine.CompleteProfileSetup(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Service) handleProfile(w http.ResponseWriter, r *http.Request) {
	profile := s.engine.Profile()
	if profile == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no profile configured"})
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Service) handleEventSetup(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.BeginEventSetup(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Step())
}

type setEventRequest struct {
	Name     string           `json:"name"`
	Location *models.GeoPoint `json:"location,omitempty"`
}

func (s *Service) handleEventSet(w http.ResponseWriter, r *http.Request) {
	var req setEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid event body"})
		return
	}

	event, err := s.engine.SetEvent(r.Context(), req.Name, req.Location)
	if err != nil {
		if errors.Is(err, session.ErrInvalidTransition) {
			writeError(w, err)
		} else {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		return
	}
	writeJSON(w, http.StatusOK, event)
}

func (s *Service) handleEvent(w http.ResponseWriter, r *http.Request) {
	event := s.engine.Event()
	if event == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no event configured"})
		return
	}
	writeJSON(w, http.StatusOK, event)
}

func (s *Service) handleScanStart(w http.ResponseWriter, r *http.Request) {
	frames := capture.NewChanSource(frameBuffer)
	if err := s.engine.StartScanning(s.ctx, frames); err != nil {
		frames.Close()
		writeError(w, err)
		return
	}
	s.setFrames(frames)
	writeJSON(w, http.StatusOK, s.engine.Step())
}

func (s *Service) handleScanFrame(w http.ResponseWriter, r *http.Request) {
	frames := s.currentFrames()
	if frames == nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "no scan in progress"})
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil || len(payload) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "empty frame"})
		return
	}

	// Delivery is best-effort; a full buffer just drops the frame, the
	// next one will arrive shortly.
	accepted := frames.Push(payload)
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": accepted})
}

func (s *Service) handleScanCancel(w http.ResponseWriter, r *http.Request) {
	s.engine.CancelScanning()
	s.setFrames(nil)
	writeJSON(w, http.StatusOK, s.engine.Step())
}

type chooseModeRequest struct {
	Mode models.RecordingMode `json:"mode"`
}

func (s *Service) handleMode(w http.ResponseWriter, r *http.Request) {
	var req chooseModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid mode body"})
		return
	}
	if !req.Mode.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown recording mode"})
		return
	}

	if err := s.engine.ChooseMode(req.Mode); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Step())
}

func (s *Service) handleRecordStart(w http.ResponseWriter, r *http.Request) {
	audio := recorder.NewChunkSource(chunkBuffer)
	if err := s.engine.StartRecording(s.ctx, audio); err != nil {
		audio.Close()
		writeError(w, err)
		return
	}
	s.setAudio(audio)
	writeJSON(w, http.StatusOK, s.engine.Step())
}

func (s *Service) handleRecordChunk(w http.ResponseWriter, r *http.Request) {
	audio := s.currentAudio()
	if audio == nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "no recording in progress"})
		return
	}

	chunk, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil || len(chunk) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "empty chunk"})
		return
	}

	accepted := audio.Push(chunk)
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": accepted})
}

func (s *Service) handleRecordStop(w http.ResponseWriter, r *http.Request) {
	s.engine.StopRecording()
	s.setAudio(nil)
	writeJSON(w, http.StatusOK, s.engine.Step())
}

func (s *Service) handleRecordElapsed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"elapsed": s.engine.RecordingElapsed()})
}

func (s *Service) handleConnections(w http.ResponseWriter, r *http.Request) {
	connections := s.engine.Connections()
	if connections == nil {
		connections = []models.ConnectionRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"connections": connections})
}

func (s *Service) handleConnectionsView(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.OpenConnections(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Step())
}

func (s *Service) handleFallbackPreview(w http.ResponseWriter, r *http.Request) {
	mode := models.RecordingMode(r.URL.Query().Get("mode"))
	if !mode.Valid() {
		mode = models.ModeShort
	}
	contact := r.URL.Query().Get("contact")

	transcript, message := s.engine.FallbackPreview(mode, contact)
	writeJSON(w, http.StatusOK, map[string]string{
		"transcript": transcript,
		"message":    message,
	})
}
