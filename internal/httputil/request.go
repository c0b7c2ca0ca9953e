package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// maxBodyBytes caps JSON request bodies. The control payloads decoded
// here (titles, checkpoint ids, node positions) are small; file uploads
// go through multipart handling with their own limit.
const maxBodyBytes = 1 << 20

// ParseJSON decodes the request body into dest. Unknown fields are
// tolerated so older clients keep working across payload additions.
func ParseJSON(w http.ResponseWriter, r *http.Request, dest any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}
