package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"marketline/internal/engine"
)

// registerUpload handles the multipart submission upload as a raw chi
// route; everything else goes through huma.
func registerUpload(r chi.Router, basePath string, e engine.Engine) {
	r.Post(path.Join(basePath, "tasks/{task_id}/submissions"), func(w http.ResponseWriter, req *http.Request) {
		actor, ok := actorFromContext(req.Context())
		if !ok || actor.ID == "" {
			respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
			return
		}
		// Cap the read slightly above the configured limit so oversized
		// archives fail validation instead of truncating silently.
		req.Body = http.MaxBytesReader(w, req.Body, e.MaxUploadBytes+(1<<20))
		if err := req.ParseMultipartForm(32 << 20); err != nil {
			respondStatusError(w, uploadError(err, "multipart form expected"))
			return
		}
		file, header, err := req.FormFile("file")
		if err != nil {
			respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "file field is required", nil))
			return
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			respondStatusError(w, uploadError(err, "failed to read upload"))
			return
		}
		s, err := e.CreateSubmission(req.Context(), actor, engine.SubmissionUpload{
			TaskID:      chi.URLParam(req, "task_id"),
			FileName:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Data:        data,
			Notes:       req.FormValue("notes"),
		})
		if err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		respondJSON(w, http.StatusCreated, s)
	})
}

// uploadError keeps the wire contract consistent: a body over the cap is
// the same "too large" validation failure whether the size check or the
// request body limit catches it first.
func uploadError(err error, fallback string) huma.StatusError {
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", "payload exceeds the upload size limit", nil)
	}
	return newAPIError(http.StatusBadRequest, "bad_request", fallback, nil)
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
