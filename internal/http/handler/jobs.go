package handler

import (
	"errors"
	"net/http"
	"strconv"

	"farmjobs/internal/jobs"
	"farmjobs/internal/logging"

	"github.com/go-chi/chi/v5"
)

// JobsHandler is the read-only job console.
type JobsHandler struct {
	Repo *jobs.Repo
}

func (h *JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := jobs.ListFilter{
		Status: jobs.Status(q.Get("status")),
		Type:   jobs.Type(q.Get("type")),
	}
	if f.Status != "" && !f.Status.Valid() {
		http.Error(w, "invalid status", http.StatusBadRequest)
		return
	}
	if f.Type != "" && !f.Type.Valid() {
		http.Error(w, "invalid type", http.StatusBadRequest)
		return
	}

	var err error
	if f.Page, err = intParam(q.Get("page")); err != nil {
		http.Error(w, "invalid page", http.StatusBadRequest)
		return
	}
	if f.Limit, err = intParam(q.Get("limit")); err != nil {
		http.Error(w, "invalid limit", http.StatusBadRequest)
		return
	}

	res, err := h.Repo.List(r.Context(), f)
	if err != nil {
		logging.Error(err, "list jobs")
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *JobsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.Repo.Stats(r.Context())
	if err != nil {
		logging.Error(err, "job stats")
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *JobsHandler) Get(w http.ResponseWriter, r *http.Request) {
	v, err := h.Repo.GetStatus(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, jobs.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		logging.Error(err, "get job status")
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// empty means unset
func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, errors.New("not a non-negative integer")
	}
	return n, nil
}
