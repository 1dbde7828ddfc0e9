package adblock

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/adsweep/adblock/dom"
)

// Handler returns the read-only status API:
//
//	GET /healthz             liveness
//	GET /pages               status of every running page
//	GET /pages/{id}          status of one page
//	GET /pages/{id}/report   last sweep report of one page
//	GET /pages/{id}/reports  stored reports, newest first (?limit=N, needs a sqlite sink)
func (b *Blocker) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "pages": len(b.Pages())})
	})

	r.Route("/pages", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, b.Pages())
		})
		r.Get("/{id}", func(w http.ResponseWriter, r *http.Request) {
			st, ok := b.page(chi.URLParam(r, "id"))
			if !ok {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown page"})
				return
			}
			writeJSON(w, http.StatusOK, st)
		})
		r.Get("/{id}/report", func(w http.ResponseWriter, r *http.Request) {
			st, ok := b.page(chi.URLParam(r, "id"))
			if !ok || st.Stats.Last == nil {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "no report"})
				return
			}
			writeJSON(w, http.StatusOK, st.Stats.Last)
		})
		r.Get("/{id}/reports", func(w http.ResponseWriter, r *http.Request) {
			if b.recent == nil {
				writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "no report history configured"})
				return
			}
			limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
			reps, err := b.recent.Recent(r.Context(), chi.URLParam(r, "id"), limit)
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			if reps == nil {
				reps = []dom.Report{}
			}
			writeJSON(w, http.StatusOK, reps)
		})
	})
	return r
}

func (b *Blocker) page(id string) (PageStatus, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	run, ok := b.pages[id]
	if !ok {
		return PageStatus{}, false
	}
	return PageStatus{ID: id, URL: run.cfg.URL, Stats: run.sess.Stats()}, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
