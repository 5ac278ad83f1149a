package dashboard

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/steveyegge/roam/internal/logging"
	"github.com/steveyegge/roam/internal/roaming"
	"github.com/steveyegge/roam/internal/settings"
	"go.uber.org/zap"
)

// maxBodyBytes bounds API request bodies.
const maxBodyBytes = 1 << 20

// SettingUpdateData describes a write to one key
type SettingUpdateData struct {
	Key    string   `json:"key"`
	Kind   string   `json:"kind"`
	SubKey []string `json:"sub_keys,omitempty"`
}

// SyncCompleteData describes a finished Sync
type SyncCompleteData struct {
	Pushed            []string      `json:"pushed"`
	Pulled            []string      `json:"pulled"`
	RemoteMissing     bool          `json:"remote_missing"`
	RemoteUnavailable bool          `json:"remote_unavailable"`
	Duration          time.Duration `json:"duration"`
	Error             string        `json:"error,omitempty"`
}

// StatsData summarizes the store
type StatsData struct {
	Materialized bool `json:"materialized"`
	Keys         int  `json:"keys"`
	Composites   int  `json:"composites"`
}

// Handler exposes a store as a JSON API and broadcasts its changes.
//
// Routes:
//
//	GET    /api/settings             whole document
//	GET    /api/settings/{key}       one value in wire form
//	PUT    /api/settings/{key}       store a JSON value
//	DELETE /api/settings/{key}       remove one key
//	PUT    /api/composites/{key}     upsert sub-keys from a JSON object
//	GET    /api/composites/{key}/{sub}
//	DELETE /api/composites/{key}/{sub}
//	GET    /api/stats
//	POST   /api/sync                 run Sync, returns the report
//	DELETE /api/settings             Delete the store
type Handler struct {
	store  *roaming.Guarded
	server *Server
	logger *zap.Logger
	mux    *http.ServeMux
}

// NewHandler creates a handler for store. server may be nil, in which case
// nothing is broadcast.
func NewHandler(store *roaming.Guarded, server *Server, logger *zap.Logger) *Handler {
	h := &Handler{
		store:  store,
		server: server,
		logger: logging.OrNop(logger).Named("api"),
		mux:    http.NewServeMux(),
	}

	h.mux.HandleFunc("GET /api/settings", h.handleDocument)
	h.mux.HandleFunc("GET /api/settings/{key}", h.handleGet)
	h.mux.HandleFunc("PUT /api/settings/{key}", h.handlePut)
	h.mux.HandleFunc("DELETE /api/settings", h.handleDelete)
	h.mux.HandleFunc("DELETE /api/settings/{key}", h.handleRemove)
	h.mux.HandleFunc("PUT /api/composites/{key}", h.handlePutComposite)
	h.mux.HandleFunc("GET /api/composites/{key}/{sub}", h.handleGetSub)
	h.mux.HandleFunc("DELETE /api/composites/{key}/{sub}", h.handleRemoveSub)
	h.mux.HandleFunc("GET /api/stats", h.handleStats)
	h.mux.HandleFunc("POST /api/sync", h.handleSync)

	if server != nil {
		server.Mount(h)
		server.SetWelcome(h.welcome)
	}
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// OnSyncComplete broadcasts a sync outcome. It matches daemon.Config.OnSync.
func (h *Handler) OnSyncComplete(report roaming.SyncReport, err error) {
	data := SyncCompleteData{
		Pushed:            report.Pushed,
		Pulled:            report.Pulled,
		RemoteMissing:     report.RemoteMissing,
		RemoteUnavailable: report.RemoteUnavailable,
		Duration:          report.Duration,
	}
	if err != nil {
		data.Error = err.Error()
	}
	h.broadcast(MessageTypeSyncComplete, data)

	if len(report.Pulled) > 0 {
		h.broadcastStats()
	}
}

// Stats returns the current store summary.
func (h *Handler) Stats() StatsData {
	var stats StatsData
	_ = h.store.Do(func(s roaming.RoamingStore) error {
		snapshot := s.Snapshot()
		stats.Materialized = snapshot != nil
		stats.Keys = len(snapshot)
		for _, v := range snapshot {
			if v.Kind() == settings.KindComposite {
				stats.Composites++
			}
		}
		return nil
	})
	return stats
}

func (h *Handler) handleDocument(w http.ResponseWriter, r *http.Request) {
	var doc []byte
	err := h.store.Do(func(s roaming.RoamingStore) error {
		snapshot := s.Snapshot()
		if snapshot == nil {
			doc = []byte("{}")
			return nil
		}
		var err error
		doc, err = settings.EncodeDocument(snapshot)
		return err
	})
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(doc)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	var value settings.Value
	var found bool
	_ = h.store.Do(func(s roaming.RoamingStore) error {
		value, found = s.Lookup(key)
		return nil
	})
	if !found {
		h.writeError(w, http.StatusNotFound, fmt.Errorf("key %q not found", key))
		return
	}

	h.writeJSON(w, http.StatusOK, value)
}

func (h *Handler) handleGetSub(w http.ResponseWriter, r *http.Request) {
	key, sub := r.PathValue("key"), r.PathValue("sub")

	var text string
	var found bool
	_ = h.store.Do(func(s roaming.RoamingStore) error {
		text, found = s.LookupSub(key, sub)
		return nil
	})
	if !found {
		h.writeError(w, http.StatusNotFound, fmt.Errorf("sub-key %q/%q not found", key, sub))
		return
	}

	// Entries are serialized text; return it as-is when it is valid JSON
	if json.Valid([]byte(text)) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(text))
		return
	}
	h.writeJSON(w, http.StatusOK, text)
}

// handlePut stores the body as one value. Scalars are stored as primitives;
// objects and arrays are stored as serialized text.
func (h *Handler) handlePut(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	body, err := readBody(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	value, err := settings.ParseJSON(body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	_ = h.store.Do(func(s roaming.RoamingStore) error {
		s.Put(key, value)
		return nil
	})

	h.logger.Debug("setting updated", zap.String("key", key), zap.Stringer("kind", value.Kind()))
	h.broadcast(MessageTypeSettingUpdate, SettingUpdateData{Key: key, Kind: value.Kind().String()})
	h.broadcastStats()
	w.WriteHeader(http.StatusNoContent)
}

// handlePutComposite upserts every member of the body object into the
// composite at key. Each member is serialized with the store's serializer.
func (h *Handler) handlePutComposite(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	body, err := readBody(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	var entries map[string]any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&entries); err != nil || entries == nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("composite body must be a JSON object"))
		return
	}

	err = h.store.Do(func(s roaming.RoamingStore) error {
		return roaming.SaveComposite(s, key, entries)
	})
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	subKeys := make([]string, 0, len(entries))
	for k := range entries {
		subKeys = append(subKeys, k)
	}
	h.broadcast(MessageTypeSettingUpdate, SettingUpdateData{
		Key:    key,
		Kind:   settings.KindComposite.String(),
		SubKey: sortedStrings(subKeys),
	})
	h.broadcastStats()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	err := h.store.Do(func(s roaming.RoamingStore) error {
		return s.Delete(r.Context())
	})

	// Local state is cleared even when the remote delete failed
	h.broadcast(MessageTypeCleared, nil)
	h.broadcastStats()

	if err != nil {
		h.writeError(w, http.StatusBadGateway, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRemove(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	var removed bool
	_ = h.store.Do(func(s roaming.RoamingStore) error {
		removed = s.Remove(key)
		return nil
	})
	if !removed {
		h.writeError(w, http.StatusNotFound, fmt.Errorf("key %q not found", key))
		return
	}

	h.broadcast(MessageTypeSettingUpdate, SettingUpdateData{Key: key, Kind: "removed"})
	h.broadcastStats()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRemoveSub(w http.ResponseWriter, r *http.Request) {
	key, sub := r.PathValue("key"), r.PathValue("sub")

	var removed bool
	_ = h.store.Do(func(s roaming.RoamingStore) error {
		removed = s.RemoveSub(key, sub)
		return nil
	})
	if !removed {
		h.writeError(w, http.StatusNotFound, fmt.Errorf("sub-key %q/%q not found", key, sub))
		return
	}

	h.broadcast(MessageTypeSettingUpdate, SettingUpdateData{Key: key, Kind: settings.KindComposite.String(), SubKey: []string{sub}})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.Stats())
}

func (h *Handler) handleSync(w http.ResponseWriter, r *http.Request) {
	report, err := h.store.Sync(r.Context())
	h.OnSyncComplete(report, err)

	if err != nil {
		h.writeError(w, http.StatusBadGateway, err)
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

func (h *Handler) welcome() Message {
	msg, err := NewMessage(MessageTypeStats, h.Stats())
	if err != nil {
		return Message{Type: MessageTypeStats, Timestamp: time.Now()}
	}
	return msg
}

func (h *Handler) broadcast(typ MessageType, data any) {
	if h.server == nil {
		return
	}
	h.server.BroadcastData(typ, data)
}

func (h *Handler) broadcastStats() {
	if h.server == nil {
		return
	}
	h.server.BroadcastData(MessageTypeStats, h.Stats())
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Debug("failed to write response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	if len(body) > maxBodyBytes {
		return nil, errors.New("request body too large")
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("request body is empty")
	}
	return body, nil
}

func sortedStrings(in []string) []string {
	sort.Strings(in)
	return in
}
