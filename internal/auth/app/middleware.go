package server

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	apperrors "github.com/steamwings/fizzy/internal/platform/errors"
	"github.com/steamwings/fizzy/internal/platform/requestctx"
)

// tenantHeader names the tenant a request addresses; the first host label is
// the fallback for subdomain-per-tenant deployments.
const tenantHeader = "X-Fizzy-Account"

// withTenant records which tenant the request addresses. Resolution only;
// membership checks happen after authentication.
func (s *Server) withTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := strings.TrimSpace(r.Header.Get(tenantHeader))
		if tenantID == "" {
			tenantID = tenantFromHost(r.Host)
		}
		if tenantID != "" {
			r = r.WithContext(requestctx.WithTenantID(r.Context(), tenantID))
		}
		next.ServeHTTP(w, r)
	})
}

func tenantFromHost(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	// Only a three-label host carries a tenant prefix; "fizzy.example" and
	// bare hosts do not.
	labels := strings.Split(host, ".")
	if len(labels) < 3 {
		return ""
	}
	return labels[0]
}

// withSession resumes authentication state: session cookie first, bearer
// token second. Resolution failures leave the request anonymous; route
// handlers decide whether anonymity is acceptable.
func (s *Server) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token, ok := readCookie(r, sessionCookieName); ok {
			session, ok, err := s.sessions.Resume(r.Context(), token)
			if err != nil {
				s.logf("resume session: %v", err)
			} else if ok {
				ctx := requestctx.WithSessionID(r.Context(), session.ID)
				ctx = requestctx.WithIdentityID(ctx, session.IdentityID)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
		}

		if token, ok := bearerToken(r); ok {
			ident, ok, err := s.sessions.AuthenticateBearer(r.Context(), token, r.Method)
			if err != nil {
				s.logf("authenticate bearer: %v", err)
			} else if ok {
				next.ServeHTTP(w, r.WithContext(requestctx.WithIdentityID(r.Context(), ident.ID)))
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	value := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, found := strings.Cut(value, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// rateLimited guards a credential-probing handler under the named policy.
func (s *Server) rateLimited(policyName string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, retryAfter := s.guard.Allow(policyName, clientKey(r))
		if !ok {
			s.logf("rate limited %s for %s", policyName, clientKey(r))
			w.Header().Set("Retry-After", retryAfterSeconds(retryAfter))
			respondJSON(w, apperrors.CodeRateLimited.HTTPStatus(), envelope{Status: "error", Message: msgTooManyAttempt})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// retryAfterSeconds rounds a wait up to whole seconds for the Retry-After
// header.
func retryAfterSeconds(wait time.Duration) string {
	seconds := int(wait / time.Second)
	if wait%time.Second != 0 || seconds == 0 {
		seconds++
	}
	return fmt.Sprintf("%d", seconds)
}

// clientKey identifies the remote client for throttling: the first forwarded
// address when behind a proxy, the socket peer otherwise.
func clientKey(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// traced wraps a handler in a server span named after its route.
func traced(route string, next http.Handler) http.Handler {
	tracer := otel.Tracer("github.com/steamwings/fizzy/internal/auth/app")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), route)
		defer span.End()
		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", route),
		)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
