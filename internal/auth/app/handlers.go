package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/steamwings/fizzy/internal/auth/identity"
	"github.com/steamwings/fizzy/internal/auth/magiclink"
	"github.com/steamwings/fizzy/internal/auth/ratelimit"
	"github.com/steamwings/fizzy/internal/auth/storage"
	apperrors "github.com/steamwings/fizzy/internal/platform/errors"
	"github.com/steamwings/fizzy/internal/platform/id"
	"github.com/steamwings/fizzy/internal/platform/requestctx"
)

// stateCookieTTL bounds how long a started provider round trip stays
// redeemable.
const stateCookieTTL = 10 * time.Minute

type magicLinkRequest struct {
	Email    string `json:"email"`
	ReturnTo string `json:"return_to"`
}

func (s *Server) parseMagicLinkRequest(r *http.Request) (magicLinkRequest, error) {
	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		var req magicLinkRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return magicLinkRequest{}, err
		}
		return req, nil
	}
	if err := r.ParseForm(); err != nil {
		return magicLinkRequest{}, err
	}
	return magicLinkRequest{
		Email:    r.PostFormValue("email"),
		ReturnTo: r.PostFormValue("return_to"),
	}, nil
}

// handleRequestMagicLink serves POST /session: look the address up, mint a
// link, and answer identically whether or not the address is registered.
func (s *Server) handleRequestMagicLink(w http.ResponseWriter, r *http.Request) {
	req, err := s.parseMagicLinkRequest(r)
	if err != nil {
		respondFailure(w, r, http.StatusBadRequest, msgSignInFailed, s.config.SignInPath)
		return
	}

	email := identity.NormalizeEmail(req.Email)
	if err := identity.ValidateEmail(email); err != nil {
		respondFailure(w, r, statusForError(err, http.StatusBadRequest), "Enter a valid email address.", s.config.SignInPath)
		return
	}
	returnTo := safeReturnTo(req.ReturnTo, "")

	ident, err := s.identities.GetIdentityByEmail(r.Context(), email)
	switch {
	case err == nil:
		if _, err := s.magicLinks.Issue(r.Context(), ident, storage.PurposeSignIn); err != nil {
			s.logf("issue sign-in link: %v", err)
			respondFailure(w, r, http.StatusInternalServerError, msgSignInFailed, s.config.SignInPath)
			return
		}
	case errors.Is(err, storage.ErrNotFound):
		if !s.signUpUnknownAddress(w, r, email) {
			return
		}
	default:
		s.logf("lookup identity by email: %v", err)
		respondFailure(w, r, http.StatusInternalServerError, msgSignInFailed, s.config.SignInPath)
		return
	}

	s.writePendingCookie(w, r, pendingAuthentication{
		Email:    email,
		ReturnTo: returnTo,
		IssuedAt: time.Now().Unix(),
	})
	if wantsJSON(r) {
		respondJSON(w, http.StatusOK, envelope{Status: "sent", Message: msgCheckEmail})
		return
	}
	http.Redirect(w, r, s.config.SignInPath, http.StatusSeeOther)
}

// signUpUnknownAddress handles the unregistered-address branch of POST
// /session. When signups are closed the response is byte-for-byte the success
// response, so probing cannot distinguish membership. It reports whether the
// caller should continue with the shared success path.
func (s *Server) signUpUnknownAddress(w http.ResponseWriter, r *http.Request, email string) bool {
	if !s.config.AcceptingSignups {
		return true
	}

	ok, retryAfter := s.guard.Allow(ratelimit.PolicySignUp, clientKey(r))
	if !ok {
		s.logf("rate limited %s for %s", ratelimit.PolicySignUp, clientKey(r))
		w.Header().Set("Retry-After", retryAfterSeconds(retryAfter))
		respondJSON(w, apperrors.CodeRateLimited.HTTPStatus(), envelope{Status: "error", Message: msgTooManyAttempt})
		return false
	}

	ident, err := identity.CreateIdentity(identity.CreateIdentityInput{Email: email}, nil, nil)
	if err != nil {
		s.logf("create identity: %v", err)
		respondFailure(w, r, http.StatusInternalServerError, msgSignInFailed, s.config.SignInPath)
		return false
	}
	if err := s.identities.PutIdentity(r.Context(), ident); err != nil {
		if !errors.Is(err, storage.ErrConflict) {
			s.logf("persist identity: %v", err)
			respondFailure(w, r, http.StatusInternalServerError, msgSignInFailed, s.config.SignInPath)
			return false
		}
		// A concurrent sign-up won; use the winner's record.
		ident, err = s.identities.GetIdentityByEmail(r.Context(), email)
		if err != nil {
			s.logf("lookup identity after conflict: %v", err)
			respondFailure(w, r, http.StatusInternalServerError, msgSignInFailed, s.config.SignInPath)
			return false
		}
	}
	if _, err := s.magicLinks.Issue(r.Context(), ident, storage.PurposeSignUp); err != nil {
		s.logf("issue sign-up link: %v", err)
		respondFailure(w, r, http.StatusInternalServerError, msgSignInFailed, s.config.SignInPath)
		return false
	}
	return true
}

// handleConsumeMagicLink serves GET and POST /session/magic_link: redeem the
// code exactly once and trade it for a session.
func (s *Server) handleConsumeMagicLink(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		_ = r.ParseForm()
		code = r.PostFormValue("code")
	}

	link, ok, err := s.magicLinks.Consume(r.Context(), code)
	if err != nil {
		s.logf("consume magic link: %v", err)
		respondFailure(w, r, http.StatusInternalServerError, msgSignInFailed, s.config.SignInPath)
		return
	}
	if !ok {
		respondFailure(w, r, http.StatusUnauthorized, msgLinkInvalid, s.config.SignInPath)
		return
	}

	ident, err := s.identities.GetIdentity(r.Context(), link.IdentityID)
	if err != nil {
		s.logf("load identity for link: %v", err)
		respondFailure(w, r, http.StatusUnauthorized, msgLinkInvalid, s.config.SignInPath)
		return
	}

	// A pending-authentication cookie from the requesting browser must name
	// the same address. Links opened on another device carry no cookie and
	// pass through.
	pending, hasPending := s.readPendingCookie(r)
	if hasPending && !magiclink.EmailMatches(pending.Email, ident.Email) {
		s.logf("pending email mismatch for identity %s", ident.ID)
		clearCookie(w, r, pendingCookieName)
		respondFailure(w, r, http.StatusUnauthorized, msgLinkInvalid, s.config.SignInPath)
		return
	}

	_, token, err := s.sessions.Start(r.Context(), ident, r.UserAgent(), clientKey(r))
	if err != nil {
		s.logf("start session: %v", err)
		respondFailure(w, r, http.StatusInternalServerError, msgSignInFailed, s.config.SignInPath)
		return
	}
	writeSessionCookie(w, r, token)
	clearCookie(w, r, pendingCookieName)

	if link.Purpose == storage.PurposeSignUp {
		s.completeSignUp(r, ident)
		respondRedirect(w, r, s.config.SignupCompletionPath, "authenticated")
		return
	}
	location := s.config.DefaultReturnTo
	if hasPending {
		location = safeReturnTo(pending.ReturnTo, s.config.DefaultReturnTo)
	}
	respondRedirect(w, r, location, "authenticated")
}

// completeSignUp provisions tenant membership for a fresh identity when the
// request addressed a tenant. Failures are logged; the sign-in itself stands.
func (s *Server) completeSignUp(r *http.Request, ident identity.Identity) {
	tenantID := requestctx.TenantIDFromContext(r.Context())
	if tenantID == "" || s.directory == nil {
		return
	}
	member, err := s.directory.HasMembership(r.Context(), ident.ID, tenantID)
	if err != nil {
		s.logf("check membership for %s in %s: %v", ident.ID, tenantID, err)
		return
	}
	if member {
		return
	}
	if err := s.directory.CreateMembership(r.Context(), ident.ID, tenantID, ident.Email); err != nil {
		s.logf("create membership for %s in %s: %v", ident.ID, tenantID, err)
	}
}

// handleOIDCStart serves GET /auth/oidc: mint state and nonce, pin them to
// the browser, and hand off to the provider.
func (s *Server) handleOIDCStart(w http.ResponseWriter, r *http.Request) {
	if s.provider == nil {
		http.NotFound(w, r)
		return
	}

	state, err := id.NewID()
	if err != nil {
		s.logf("generate state: %v", err)
		respondFailure(w, r, http.StatusInternalServerError, msgSignInFailed, s.config.SignInPath)
		return
	}
	nonce, err := id.NewID()
	if err != nil {
		s.logf("generate nonce: %v", err)
		respondFailure(w, r, http.StatusInternalServerError, msgSignInFailed, s.config.SignInPath)
		return
	}

	payload := oidcState{
		State:    state,
		Nonce:    nonce,
		ReturnTo: safeReturnTo(r.URL.Query().Get("return_to"), ""),
		IssuedAt: time.Now().Unix(),
	}
	value, err := s.codec.encode(stateCookieName, payload)
	if err != nil {
		s.logf("encode state cookie: %v", err)
		respondFailure(w, r, http.StatusInternalServerError, msgSignInFailed, s.config.SignInPath)
		return
	}
	writeSignedCookie(w, r, stateCookieName, value, stateCookieTTL)
	http.Redirect(w, r, s.provider.AuthCodeURL(state, nonce), http.StatusFound)
}

// handleOIDCCallback serves GET and POST /auth/oidc/callback: verify state,
// exchange the code, resolve the assertion, and mint a session.
func (s *Server) handleOIDCCallback(w http.ResponseWriter, r *http.Request) {
	if s.provider == nil {
		http.NotFound(w, r)
		return
	}

	if providerErr := r.URL.Query().Get("error"); providerErr != "" {
		s.logf("provider returned error %q", providerErr)
		s.failOIDC(w, r)
		return
	}

	value, ok := readCookie(r, stateCookieName)
	if !ok {
		s.logf("oidc callback without state cookie")
		s.failOIDC(w, r)
		return
	}
	var state oidcState
	if !s.codec.decode(stateCookieName, value, &state) {
		s.logf("oidc state cookie failed verification")
		s.failOIDC(w, r)
		return
	}
	if time.Since(time.Unix(state.IssuedAt, 0)) > stateCookieTTL {
		s.logf("oidc state cookie expired")
		s.failOIDC(w, r)
		return
	}
	if r.URL.Query().Get("state") != state.State {
		s.logf("oidc state mismatch")
		s.failOIDC(w, r)
		return
	}

	assertion, err := s.provider.Exchange(r.Context(), r.URL.Query().Get("code"), state.Nonce)
	if err != nil {
		s.logf("exchange authorization code: %v", err)
		s.failOIDC(w, r)
		return
	}

	ident, err := s.resolver.Resolve(r.Context(), assertion)
	if err != nil {
		s.logf("resolve assertion: %v", err)
		s.failOIDC(w, r)
		return
	}

	_, token, err := s.sessions.Start(r.Context(), ident, r.UserAgent(), clientKey(r))
	if err != nil {
		s.logf("start session: %v", err)
		s.failOIDC(w, r)
		return
	}
	writeSessionCookie(w, r, token)
	clearCookie(w, r, stateCookieName)
	clearCookie(w, r, pendingCookieName)
	respondRedirect(w, r, safeReturnTo(state.ReturnTo, s.config.DefaultReturnTo), "authenticated")
}

func (s *Server) failOIDC(w http.ResponseWriter, r *http.Request) {
	clearCookie(w, r, stateCookieName)
	respondFailure(w, r, http.StatusUnauthorized, msgSignInFailed, s.config.SignInPath)
}

// handleSignOut serves DELETE /session. Signing out an absent session
// succeeds; the response always clears the cookie.
func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if sessionID := requestctx.SessionIDFromContext(r.Context()); sessionID != "" {
		if err := s.sessions.Terminate(r.Context(), sessionID); err != nil {
			s.logf("terminate session: %v", err)
			respondFailure(w, r, http.StatusInternalServerError, msgSignInFailed, s.config.SignInPath)
			return
		}
	}
	clearCookie(w, r, sessionCookieName)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) writePendingCookie(w http.ResponseWriter, r *http.Request, pending pendingAuthentication) {
	value, err := s.codec.encode(pendingCookieName, pending)
	if err != nil {
		s.logf("encode pending cookie: %v", err)
		return
	}
	writeSignedCookie(w, r, pendingCookieName, value, s.magicLinkTTL)
}

func (s *Server) readPendingCookie(r *http.Request) (pendingAuthentication, bool) {
	value, ok := readCookie(r, pendingCookieName)
	if !ok {
		return pendingAuthentication{}, false
	}
	var pending pendingAuthentication
	if !s.codec.decode(pendingCookieName, value, &pending) {
		return pendingAuthentication{}, false
	}
	return pending, true
}
