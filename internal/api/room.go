package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/roomhub/roomhub/internal/activity"
	"github.com/roomhub/roomhub/internal/adapter"
)

// StateResponse is the room state plus the event stream cursor, so a
// client can open the WebSocket with ?since=last_seq and miss nothing.
type StateResponse struct {
	activity.State
	LastSeq uint64 `json:"last_seq"`
}

// handleState returns the current room state.
func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, StateResponse{
		State:   s.room.State(),
		LastSeq: s.events.LastSeq(),
	})
}

// ActivityRequest selects the target activity.
type ActivityRequest struct {
	Activity string `json:"activity"`
}

// handleSetActivity requests a transition to the given activity. The
// call is synchronous: a 200 means the transition committed, a 502
// means it was accepted but failed and rolled back.
func (s *Server) handleSetActivity(w http.ResponseWriter, r *http.Request) {
	var req ActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	target := activity.Activity(req.Activity)
	if !target.Valid() {
		writeBadRequest(w, "activity must be off, watch, or listen")
		return
	}

	if err := s.room.SetActivity(r.Context(), target, requestCause(r)); err != nil {
		writeRoomError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, StateResponse{
		State:   s.room.State(),
		LastSeq: s.events.LastSeq(),
	})
}

// VolumeRequest sets an absolute level or steps the volume. Exactly one
// of Level and Step must be given.
type VolumeRequest struct {
	Level *int   `json:"level,omitempty"`
	Step  string `json:"step,omitempty"` // "up" or "down"
}

// VolumeResponse reports the committed volume.
type VolumeResponse struct {
	Volume int `json:"volume"`
}

// handleVolume sets or steps the room volume on the speaker.
func (s *Server) handleVolume(w http.ResponseWriter, r *http.Request) {
	var req VolumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	switch {
	case req.Level != nil && req.Step != "":
		writeBadRequest(w, "level and step are mutually exclusive")

	case req.Level != nil:
		if err := s.room.SetVolume(r.Context(), *req.Level, requestCause(r)); err != nil {
			writeRoomError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, VolumeResponse{Volume: *req.Level})

	case req.Step == "up" || req.Step == "down":
		delta := activity.VolumeStep
		if req.Step == "down" {
			delta = -delta
		}
		level, err := s.room.AdjustVolume(r.Context(), delta, requestCause(r))
		if err != nil {
			writeRoomError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, VolumeResponse{Volume: level})

	default:
		writeBadRequest(w, `either level (0-100) or step ("up"/"down") is required`)
	}
}

// SourceRequest selects a speaker input source.
type SourceRequest struct {
	Source string `json:"source"`
}

// handleSource selects the speaker's input source.
func (s *Server) handleSource(w http.ResponseWriter, r *http.Request) {
	var req SourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Source == "" {
		writeBadRequest(w, "source is required")
		return
	}

	if err := s.room.SelectSource(r.Context(), req.Source, requestCause(r)); err != nil {
		writeRoomError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"source": req.Source})
}

// MediaRequest names a media transport operation.
type MediaRequest struct {
	Op string `json:"op"`
}

// handleMedia forwards a transport operation to the media device.
// Transport is only routable while a listening session is active.
func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	var req MediaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	op := adapter.MediaOp(req.Op)
	if !op.Valid() {
		writeBadRequest(w, "op must be play, pause, stop, next, or prev")
		return
	}

	if err := s.room.Media(r.Context(), op, requestCause(r)); err != nil {
		writeRoomError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"op": req.Op})
}

// handleGetDefaults returns the room's transition defaults.
func (s *Server) handleGetDefaults(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.room.Defaults())
}

// handlePatchDefaults applies a partial update to the transition
// defaults. Omitted fields are left unchanged.
func (s *Server) handlePatchDefaults(w http.ResponseWriter, r *http.Request) {
	var patch activity.DefaultsPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	defaults, err := s.room.UpdateDefaults(patch)
	if err != nil {
		writeRoomError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, defaults)
}

// handleEventHistory lists recorded events, newest first. Supports
// ?kind= to filter and ?limit= to bound the result.
func (s *Server) handleEventHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeNotFound(w, "event history is not enabled")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	evs, err := s.history.List(r.Context(), r.URL.Query().Get("kind"), limit)
	if err != nil {
		s.logger.Error("event history query failed", "error", err)
		writeInternalError(w, "failed to query event history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"events": evs,
		"count":  len(evs),
	})
}
