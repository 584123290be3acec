package api

import (
	"encoding/json"
	"fmt"
	"fragloadd/internal/events"
	"fragloadd/internal/fragloader"
	"fragloadd/internal/models"
	"net/http"

	"github.com/google/uuid"
)

// StatusProvider reports the loads in flight.
type StatusProvider interface {
	Active() []fragloader.ActiveLoad
}

// PayloadStore returns loaded payloads by fragment id.
type PayloadStore interface {
	Get(key string) ([]byte, bool)
}

type API struct {
	sink    events.Sink
	status  StatusProvider
	storage PayloadStore
}

// loadRequest is the body of POST /load.
type loadRequest struct {
	ID         string `json:"id"`
	SN         int64  `json:"sn"`
	Type       string `json:"type"`
	URL        string `json:"url"`
	RangeStart *int64 `json:"rangeStart"`
	RangeEnd   *int64 `json:"rangeEnd"`
}

func New(sink events.Sink, status StatusProvider, storage PayloadStore) http.Handler {
	api := &API{
		sink:    sink,
		status:  status,
		storage: storage,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /load", api.handleLoad)
	mux.HandleFunc("GET /status", api.handleStatus)
	mux.HandleFunc("GET /fragments/{fragmentId}", api.handleFragment)

	return mux
}

func (a *API) handleLoad(w http.ResponseWriter, r *http.Request) {
	var req loadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	trackType, err := models.ParseTrackType(req.Type)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.URL == "" {
		http.Error(w, "Missing fragment url", http.StatusBadRequest)
		return
	}
	if (req.RangeStart == nil) != (req.RangeEnd == nil) {
		http.Error(w, "rangeStart and rangeEnd must be given together", http.StatusBadRequest)
		return
	}
	if req.RangeStart != nil && *req.RangeStart < 0 {
		http.Error(w, "rangeStart must not be negative", http.StatusBadRequest)
		return
	}
	if req.RangeStart != nil && *req.RangeEnd <= *req.RangeStart {
		http.Error(w, "rangeEnd must be greater than rangeStart", http.StatusBadRequest)
		return
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	frag := &models.Fragment{
		ID:                   req.ID,
		SN:                   req.SN,
		Type:                 trackType,
		URL:                  req.URL,
		ByteRangeStartOffset: req.RangeStart,
		ByteRangeEndOffset:   req.RangeEnd,
	}
	a.sink.Emit(events.New(events.FragLoading, frag))

	writeJSON(w, http.StatusAccepted, map[string]string{"id": frag.ID})
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := make(map[string]fragloader.ActiveLoad)
	for _, load := range a.status.Active() {
		status[load.Type.String()] = load
	}
	writeJSON(w, http.StatusOK, status)
}

func (a *API) handleFragment(w http.ResponseWriter, r *http.Request) {
	fragmentId := r.PathValue("fragmentId")
	data, found := a.storage.Get(fragmentId)
	if !found {
		http.Error(w, fmt.Sprintf("Fragment %s not found in cache", fragmentId), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(data)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
