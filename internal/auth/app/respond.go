package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	apperrors "github.com/steamwings/fizzy/internal/platform/errors"
)

// Generic user-facing messages. Failure detail stays in the server log;
// responses never distinguish unknown addresses, bad codes, or expired links.
const (
	msgCheckEmail     = "If that address is registered, a sign-in link is on its way."
	msgLinkInvalid    = "That sign-in link is invalid or has expired."
	msgSignInFailed   = "Sign-in failed. Please try again."
	msgTooManyAttempt = "Too many attempts. Please wait before trying again."
)

type envelope struct {
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
	Location string `json:"location,omitempty"`
}

// wantsJSON reports whether the caller asked for a JSON envelope instead of a
// redirect, mirroring content negotiation on both request shapes.
func wantsJSON(r *http.Request) bool {
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		return true
	}
	return strings.Contains(r.Header.Get("Content-Type"), "application/json")
}

func respondJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("encode response: %v", err)
	}
}

// respondRedirect sends either a browser redirect or its JSON equivalent.
func respondRedirect(w http.ResponseWriter, r *http.Request, location, status string) {
	if wantsJSON(r) {
		respondJSON(w, http.StatusOK, envelope{Status: status, Location: location})
		return
	}
	http.Redirect(w, r, location, http.StatusSeeOther)
}

// statusForError derives the response status from a coded domain error,
// falling back when the error carries no code.
func statusForError(err error, fallback int) int {
	var coded *apperrors.Error
	if errors.As(err, &coded) {
		return coded.Code.HTTPStatus()
	}
	return fallback
}

// respondFailure sends a generic failure without leaking why.
func respondFailure(w http.ResponseWriter, r *http.Request, httpStatus int, message, fallbackPath string) {
	if wantsJSON(r) {
		respondJSON(w, httpStatus, envelope{Status: "error", Message: message})
		return
	}
	http.Redirect(w, r, fallbackPath, http.StatusSeeOther)
}

// safeReturnTo restricts return-to targets to same-site paths so the login
// round trip cannot be used as an open redirect.
func safeReturnTo(candidate, fallback string) string {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return fallback
	}
	if !strings.HasPrefix(candidate, "/") || strings.HasPrefix(candidate, "//") || strings.HasPrefix(candidate, "/\\") {
		return fallback
	}
	return candidate
}
