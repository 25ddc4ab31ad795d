package rest

import (
	"crypto/subtle"
	"net/http"
)

const cronSecretHeader = "X-Cron-Secret"

// cronAuthorized accepts every caller when no secret is configured.
func (h *Handler) cronAuthorized(r *http.Request) bool {
	if h.cronSecret == "" {
		return true
	}
	got := r.Header.Get(cronSecretHeader)
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.cronSecret)) == 1
}
