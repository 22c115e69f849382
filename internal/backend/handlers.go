package backend

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/linkup-app/linkup/internal/codec"
	"github.com/linkup-app/linkup/internal/outreach"
	"github.com/linkup-app/linkup/pkg/models"
	"github.com/rs/zerolog/log"
	qrcode "github.com/skip2/go-qrcode"
)

const (
	// maxAudio bounds transcription uploads.
	maxAudio = 25 << 20

	qrSize = 256
)

func respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Response write failed")
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respond(w, status, map[string]string{"detail": msg})
}

func (s *Service) handleRoot(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, map[string]string{"message": "LinkUp API - Networking Made Easy"})
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, map[string]string{"status": "ok", "version": s.version})
}

func (s *Service) handleCreateProfile(w http.ResponseWriter, r *http.Request) {
	var req models.CreateUserProfile
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid profile body")
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}

	profile, err := s.profiles.Create(r.Context(), req)
	if err != nil {
		log.Error().Err(err).Msg("Profile insert failed")
		respondError(w, http.StatusInternalServerError, "profile not stored")
		return
	}
	respond(w, http.StatusOK, profile)
}

func (s *Service) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := s.profiles.Get(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if profile == nil {
		respondError(w, http.StatusNotFound, "Profile not found")
		return
	}
	respond(w, http.StatusOK, profile)
}

func (s *Service) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := s.profiles.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if profiles == nil {
		profiles = []models.UserProfile{}
	}
	respond(w, http.StatusOK, profiles)
}

// handleQRCode renders the profile's identity code as a PNG data URL.
func (s *Service) handleQRCode(w http.ResponseWriter, r *http.Request) {
	profile, err := s.profiles.Get(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if profile == nil {
		respondError(w, http.StatusNotFound, "Profile not found")
		return
	}

	payload, err := codec.Encode(*profile)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	png, err := qrcode.Encode(string(payload), qrcode.Medium, qrSize)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respond(w, http.StatusOK, map[string]string{
		"qr_code": "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
	})
}

// handleTranscribe forwards the uploaded audio to the upstream
// transcription service. When no upstream is configured or the call fails,
// the deterministic fallback transcript is returned instead of an error.
func (s *Service) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxAudio); err != nil {
		respondError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}

	file, header, err := r.FormFile("audio_file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "audio_file is required")
		return
	}
	defer file.Close()

	mode := models.RecordingMode(r.FormValue("recording_mode"))
	if !mode.Valid() {
		mode = models.ModeShort
	}
	event := &models.EventContext{Name: r.FormValue("event_name")}

	if s.cfg.TranscribeURL != "" {
		if text, err := s.transcribeUpstream(r, file, header.Filename); err == nil && text != "" {
			respond(w, http.StatusOK, map[string]string{"transcript": text, "source": "remote"})
			return
		} else if err != nil {
			log.Warn().Err(err).Msg("Upstream transcription failed, using fallback")
		}
	}

	respond(w, http.StatusOK, map[string]string{
		"transcript": outreach.FallbackTranscript(mode, event),
		"source":     "fallback",
	})
}

func (s *Service) transcribeUpstream(r *http.Request, file io.Reader, filename string) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, s.cfg.TranscribeURL, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.upstream.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("upstream status %d", resp.StatusCode)
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Text, nil
}

// handleGenerateMessage asks the upstream drafting service for an outreach
// message, falling back to the deterministic template.
func (s *Service) handleGenerateMessage(w http.ResponseWriter, r *http.Request) {
	var dc models.DraftContext
	if err := json.NewDecoder(r.Body).Decode(&dc); err != nil {
		respondError(w, http.StatusBadRequest, "invalid draft context")
		return
	}

	if s.cfg.DraftURL != "" {
		if msg, err := s.draftUpstream(r, dc); err == nil && msg != "" {
			respond(w, http.StatusOK, map[string]string{"ai_message": msg, "source": "remote"})
			return
		} else if err != nil {
			log.Warn().Err(err).Msg("Upstream drafting failed, using fallback")
		}
	}

	eventName := dc.EventName
	if eventName == "" {
		eventName = models.DefaultEventName
	}
	respond(w, http.StatusOK, map[string]string{
		"ai_message": outreach.FallbackMessage(dc.ContactName, eventName),
		"source":     "fallback",
	})
}

func (s *Service) draftUpstream(r *http.Request, dc models.DraftContext) (string, error) {
	payload, err := json.Marshal(dc)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, s.cfg.DraftURL, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.upstream.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("upstream status %d", resp.StatusCode)
	}

	var out struct {
		AIMessage string `json:"ai_message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.AIMessage, nil
}

func (s *Service) handleCreateConnection(w http.ResponseWriter, r *http.Request) {
	var rec models.ConnectionRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		respondError(w, http.StatusBadRequest, "invalid connection body")
		return
	}
	if rec.UserID == "" || rec.ContactName == "" {
		respondError(w, http.StatusBadRequest, "user_id and contact_name are required")
		return
	}

	stored, err := s.connections.Create(r.Context(), rec)
	if err != nil {
		log.Error().Err(err).Msg("Connection insert failed")
		respondError(w, http.StatusInternalServerError, "connection not stored")
		return
	}
	respond(w, http.StatusOK, stored)
}

func (s *Service) handleListConnections(w http.ResponseWriter, r *http.Request) {
	connections, err := s.connections.ListByUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if connections == nil {
		connections = []models.ConnectionRecord{}
	}
	respond(w, http.StatusOK, connections)
}

func (s *Service) handleUpdateConnection(w http.ResponseWriter, r *http.Request) {
	var updates ConnectionUpdates
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		respondError(w, http.StatusBadRequest, "invalid update body")
		return
	}

	found, err := s.connections.Update(r.Context(), chi.URLParam(r, "connectionID"), updates)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !found {
		respondError(w, http.StatusNotFound, "Connection not found")
		return
	}
	respond(w, http.StatusOK, map[string]string{"message": "Connection updated successfully"})
}

func (s *Service) handleEventTypes(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, map[string][]string{"event_types": EventTypes})
}

func (s *Service) handlePersonCategories(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, map[string][]string{"person_categories": PersonCategories})
}
