package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// Cookie names. The session cookie carries the signed opaque token from the
// session manager; the other two carry short-lived signed payloads minted by
// this package.
const (
	sessionCookieName = "fizzy_session"
	pendingCookieName = "fizzy_pending_authentication"
	stateCookieName   = "fizzy_oidc_state"
)

// sessionCookieMaxAge keeps the browser session effectively permanent;
// revocation happens server-side by deleting the session record.
const sessionCookieMaxAge = int(10 * 365 * 24 * time.Hour / time.Second)

// pendingAuthentication rides the login round trip: the address a magic link
// was requested for, and where to land after it resolves.
type pendingAuthentication struct {
	Email    string `json:"email"`
	ReturnTo string `json:"return_to,omitempty"`
	IssuedAt int64  `json:"iat"`
}

// oidcState pins the callback to the browser that started the flow.
type oidcState struct {
	State    string `json:"state"`
	Nonce    string `json:"nonce"`
	ReturnTo string `json:"return_to,omitempty"`
	IssuedAt int64  `json:"iat"`
}

// cookieCodec signs short-lived cookie payloads so the client cannot forge or
// rewrite them. Each cookie name is its own signing context; a payload signed
// for one cookie never verifies as another.
type cookieCodec struct {
	secret []byte
}

func (c cookieCodec) sign(name string, body []byte) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(name))
	mac.Write([]byte{0})
	mac.Write(body)
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func (c cookieCodec) encode(name string, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	encoded := base64.RawURLEncoding.EncodeToString(body)
	return encoded + "." + c.sign(name, body), nil
}

func (c cookieCodec) decode(name, value string, payload any) bool {
	encoded, signature, found := strings.Cut(value, ".")
	if !found {
		return false
	}
	body, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return false
	}
	if !hmac.Equal([]byte(signature), []byte(c.sign(name, body))) {
		return false
	}
	return json.Unmarshal(body, payload) == nil
}

func isHTTPS(r *http.Request) bool {
	if r == nil {
		return false
	}
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

func readCookie(r *http.Request, name string) (string, bool) {
	if r == nil {
		return "", false
	}
	cookie, err := r.Cookie(name)
	if err != nil || cookie == nil {
		return "", false
	}
	value := strings.TrimSpace(cookie.Value)
	if value == "" {
		return "", false
	}
	return value, true
}

func writeSessionCookie(w http.ResponseWriter, r *http.Request, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    strings.TrimSpace(token),
		Path:     "/",
		HttpOnly: true,
		Secure:   isHTTPS(r),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   sessionCookieMaxAge,
	})
}

func writeSignedCookie(w http.ResponseWriter, r *http.Request, name, value string, maxAge time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   isHTTPS(r),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(maxAge / time.Second),
	})
}

func clearCookie(w http.ResponseWriter, r *http.Request, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   isHTTPS(r),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}
