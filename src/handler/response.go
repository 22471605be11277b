package handler

import (
	"encoding/json"
	"net/http"

	logger "github.com/sirupsen/logrus"

	"tradeexecutor/src/model"
)

// errorResponse is the body of every request that could not be served.
type errorResponse struct {
	Success bool               `json:"success"`
	Errors  []*model.ExecError `json:"errors"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithError(err).Error("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, errs ...*model.ExecError) {
	writeJSON(w, status, errorResponse{Success: false, Errors: errs})
}

// decode reads an optional JSON body; an empty body leaves v untouched.
func decode(r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusBadRequest, model.NewExecError(model.ErrSignalRejected, "", "", msg, "fix the request body"))
}
