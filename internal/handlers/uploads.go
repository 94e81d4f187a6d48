package handlers

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/servicehub/apiserver/internal/storage"
)

// ServeUpload streams a stored listing image by its key.
func ServeUpload(images *storage.ImageStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if images == nil {
			writeError(w, http.StatusNotFound, "Image not found")
			return
		}

		key := chi.URLParam(r, "key")
		if key == "" {
			writeError(w, http.StatusBadRequest, "Invalid image key")
			return
		}

		object, err := images.Open(r.Context(), key)
		if err != nil {
			writeError(w, http.StatusNotFound, "Image not found")
			return
		}
		defer object.Close()

		if _, err := io.Copy(w, object); err != nil {
			// Headers are already out; nothing more to report to the client.
			return
		}
	}
}
