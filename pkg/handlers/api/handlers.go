// Package api registers the HTTP surface: the streaming proxy, the
// watch-history REST endpoints and the playlist probe.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"kumo-stream-go/pkg/history"
	"kumo-stream-go/pkg/logging"
	"kumo-stream-go/pkg/metadata"
	"kumo-stream-go/pkg/probe"
	"kumo-stream-go/pkg/proxy"
)

// Handlers bundles the request handlers and their collaborators.
type Handlers struct {
	relay   *proxy.Relay
	store   history.Store
	prober  *probe.Prober
	meta    *metadata.Client
	log     *logging.Logger
	version string
}

// New creates the handler set. meta may be nil when no metadata upstream is
// configured; its routes then answer 503.
func New(relay *proxy.Relay, store history.Store, prober *probe.Prober, meta *metadata.Client, log *logging.Logger, version string) *Handlers {
	return &Handlers{
		relay:   relay,
		store:   store,
		prober:  prober,
		meta:    meta,
		log:     log.WithComponent("api"),
		version: version,
	}
}

// Register mounts all routes on the router.
func (h *Handlers) Register(r chi.Router) {
	r.Get(proxy.Path, h.relay.ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/history", h.listHistory)
		r.Post("/history", h.saveHistory)
		r.Delete("/history", h.clearHistory)
		r.Get("/history/{titleID}", h.getHistory)
		r.Delete("/history/{titleID}", h.removeHistory)

		r.Get("/probe", h.probePlaylist)
		r.Get("/info", h.info)

		r.Get("/search", h.search)
		r.Get("/episodes/{titleID}", h.episodes)
		r.Get("/stream", h.stream)
	})

	r.Get("/healthz", h.health)
}

func (h *Handlers) listHistory(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.List()
	if err != nil {
		h.log.WithError(err).Error("listing history failed")
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	if records == nil {
		records = []history.Progress{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handlers) getHistory(w http.ResponseWriter, r *http.Request) {
	titleID := chi.URLParam(r, "titleID")
	progress, ok := h.store.Get(titleID)
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

type saveRequest struct {
	TitleID   string  `json:"titleId"`
	EpisodeID string  `json:"episodeId"`
	Position  float64 `json:"position"`
	Duration  float64 `json:"duration"`
}

func (h *Handlers) saveHistory(w http.ResponseWriter, r *http.Request) {
	var req saveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.TitleID == "" || req.EpisodeID == "" {
		writeError(w, http.StatusBadRequest, "titleId and episodeId are required")
		return
	}

	if err := h.store.Save(req.TitleID, req.EpisodeID, req.Position, req.Duration); err != nil {
		h.log.WithError(err).Error("saving history failed")
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) removeHistory(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Remove(chi.URLParam(r, "titleID")); err != nil {
		h.log.WithError(err).Error("removing history failed")
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) clearHistory(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Clear(); err != nil {
		h.log.WithError(err).Error("clearing history failed")
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) probePlaylist(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("url")
	if target == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	report, err := h.prober.Probe(r.Context(), target, r.URL.Query().Get("referer"))
	if err != nil {
		h.log.WithError(err).WithURL(target).Warn("probe failed")
		writeError(w, http.StatusBadGateway, "probe failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handlers) search(w http.ResponseWriter, r *http.Request) {
	if h.meta == nil {
		writeError(w, http.StatusServiceUnavailable, "metadata upstream not configured")
		return
	}
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))

	titles, err := h.meta.Search(r.Context(), query, page)
	if err != nil {
		h.log.WithError(err).Warn("search failed", "query", query)
		writeError(w, http.StatusBadGateway, "upstream search failed")
		return
	}
	writeJSON(w, http.StatusOK, titles)
}

func (h *Handlers) episodes(w http.ResponseWriter, r *http.Request) {
	if h.meta == nil {
		writeError(w, http.StatusServiceUnavailable, "metadata upstream not configured")
		return
	}
	titleID := chi.URLParam(r, "titleID")

	eps, err := h.meta.Episodes(r.Context(), titleID)
	if err != nil {
		h.log.WithError(err).Warn("episode listing failed", "title_id", titleID)
		writeError(w, http.StatusBadGateway, "upstream episode listing failed")
		return
	}
	writeJSON(w, http.StatusOK, eps)
}

// stream resolves an episode's playable sources, falling back between sub
// and dub when the requested one is missing. The response carries the
// effective category and a fellBack flag.
func (h *Handlers) stream(w http.ResponseWriter, r *http.Request) {
	if h.meta == nil {
		writeError(w, http.StatusServiceUnavailable, "metadata upstream not configured")
		return
	}
	episodeID := r.URL.Query().Get("episodeId")
	if episodeID == "" {
		writeError(w, http.StatusBadRequest, "episodeId is required")
		return
	}
	server := r.URL.Query().Get("server")
	category := metadata.ParseCategory(r.URL.Query().Get("type"))

	stream, err := h.meta.ResolveStream(r.Context(), episodeID, server, category)
	if err != nil {
		h.log.WithError(err).Warn("stream resolution failed", "episode_id", episodeID)
		if errors.Is(err, metadata.ErrNoStream) {
			writeError(w, http.StatusNotFound, "no streaming links found")
			return
		}
		writeError(w, http.StatusBadGateway, "upstream stream fetch failed")
		return
	}
	writeJSON(w, http.StatusOK, stream)
}

func (h *Handlers) info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":    "kumo-stream",
		"version": h.version,
		"proxy":   proxy.Path,
	})
}

func (h *Handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
