package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 16

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeJSON reads a JSON body into dst and runs its validation rules when
// dst implements validation.Validatable. It writes the 400 response itself
// and reports whether the handler should continue.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if v, ok := dst.(validation.Validatable); ok {
		if err := v.Validate(); err != nil {
			var verrs validation.Errors
			if errors.As(err, &verrs) {
				writeJSON(w, http.StatusBadRequest, map[string]any{
					"error":  "validation failed",
					"fields": verrs,
				})
				return false
			}
			writeError(w, http.StatusBadRequest, err.Error())
			return false
		}
	}
	return true
}
