package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"marketline/internal/blob"
)

// registerBlobs serves signed download links outside the API base path.
// The HMAC in the query string is the whole authorization; no session is
// needed, which lets the links be pasted into a browser.
func registerBlobs(r chi.Router, store *blob.DiskStore) {
	if store == nil {
		return
	}
	r.Get("/blobs", func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		ref := q.Get("ref")
		sig := q.Get("sig")
		expires, err := strconv.ParseInt(q.Get("expires"), 10, 64)
		if err != nil || ref == "" || sig == "" {
			respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "ref, expires and sig are required", nil))
			return
		}
		if !store.VerifySignedRef(ref, expires, sig) {
			respondStatusError(w, newAPIError(http.StatusForbidden, "forbidden", "link is invalid or expired", nil))
			return
		}
		data, err := store.Open(ref)
		if err != nil {
			if errors.Is(err, blob.ErrNotFound) {
				respondStatusError(w, newAPIError(http.StatusNotFound, "not_found", "blob not found", nil))
				return
			}
			respondStatusError(w, newAPIError(http.StatusInternalServerError, "internal_error", "failed to read blob", nil))
			return
		}
		w.Header().Set("Content-Type", "application/zip")
		w.Header().Set("Content-Disposition", "attachment")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	})
}
