package api

import (
	"encoding/json"
	"net/http"

	"github.com/juju/errors"

	"sitecover/internal/store"
)

// Problem represents an RFC7807 problem details response body.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	writeJSON(w, status, Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}

// writeError maps an error class to a problem. fallback is the title used
// for unclassified failures.
func writeError(w http.ResponseWriter, r *http.Request, fallback string, err error) {
	switch {
	case errors.IsNotSupported(err):
		writeProblem(w, http.StatusBadRequest, "Unsupported solver", err.Error(), r.URL.Path)
	case errors.IsNotValid(err):
		writeProblem(w, http.StatusUnprocessableEntity, "Invalid input", err.Error(), r.URL.Path)
	case errors.Is(err, store.ErrNotFound), errors.IsNotFound(err):
		writeProblem(w, http.StatusNotFound, "Not Found", err.Error(), r.URL.Path)
	default:
		writeProblem(w, http.StatusInternalServerError, fallback, err.Error(), r.URL.Path)
	}
}
