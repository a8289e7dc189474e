// Package identity provides per-device identity for collaborative
// sessions. Every browser gets an anonymous cookie id on first contact;
// users who fill in their profile are recognized by the email they chose,
// sent back on each request.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/cmiguez/smepro/internal/domain"
	"github.com/cmiguez/smepro/internal/store"
)

const (
	AnonCookieName   = "smepro_anon_id"
	UserEmailHeader  = "X-SMEPro-User-Email"
	anonCookieMaxAge = 30 * 24 * time.Hour
)

type contextKey int

const profileKey contextKey = iota

var (
	anonIDPattern = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)
	emailPattern  = regexp.MustCompile(`^[^@\s]{1,64}@[^@\s]{1,190}$`)
)

// WithProfile returns a context carrying the profile. Transports that
// authenticate outside the HTTP middleware use this directly.
func WithProfile(ctx context.Context, profile domain.UserProfile) context.Context {
	return context.WithValue(ctx, profileKey, profile)
}

// ProfileFromContext extracts the requesting user's profile. The zero
// profile is returned when the middleware did not run.
func ProfileFromContext(ctx context.Context) domain.UserProfile {
	if v, ok := ctx.Value(profileKey).(domain.UserProfile); ok {
		return v
	}
	return domain.UserProfile{}
}

func generateAnonID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate anonymous id: %w", err)
	}
	return "anon_" + hex.EncodeToString(buf), nil
}

func isValidAnonID(id string) bool {
	return anonIDPattern.MatchString(id)
}

// IsValidEmail reports whether an email is acceptable as a profile key.
func IsValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}

func deriveProfile(anonID string) domain.UserProfile {
	suffix := "user"
	if len(anonID) > 13 {
		suffix = anonID[len(anonID)-8:]
	}
	return domain.UserProfile{
		Email: "anon-" + suffix + "@smepro.local",
		Name:  "anon-" + suffix,
	}
}

func ensureProfile(ctx context.Context, repo store.Repository, profile domain.UserProfile) (domain.UserProfile, error) {
	existing, err := repo.GetProfile(ctx, profile.Email)
	if err != nil {
		return domain.UserProfile{}, err
	}
	if existing != nil {
		return *existing, nil
	}
	if err := repo.SaveProfile(ctx, &profile); err != nil {
		return domain.UserProfile{}, err
	}
	return profile, nil
}

func getOrCreateAnonID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	setCookie := func(value string) {
		http.SetCookie(w, &http.Cookie{
			Name:     AnonCookieName,
			Value:    value,
			Path:     "/",
			MaxAge:   int(anonCookieMaxAge.Seconds()),
			Expires:  time.Now().Add(anonCookieMaxAge),
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
			Secure:   !isDev,
		})
	}

	if c, err := r.Cookie(AnonCookieName); err == nil && isValidAnonID(c.Value) {
		setCookie(c.Value)
		return c.Value, nil
	}

	id, err := generateAnonID()
	if err != nil {
		return "", err
	}
	setCookie(id)
	return id, nil
}

// Middleware resolves the requesting user's profile and stores it on the
// request context. A valid email header selects a saved profile; anything
// else falls back to the device's anonymous profile.
func Middleware(repo store.Repository, isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			anonID, err := getOrCreateAnonID(w, r, isDev)
			if err != nil {
				http.Error(w, `{"error":"failed to establish anonymous identity"}`, http.StatusInternalServerError)
				return
			}

			profile := deriveProfile(anonID)
			if email := strings.TrimSpace(r.Header.Get(UserEmailHeader)); IsValidEmail(email) {
				profile.Email = email
				profile.Name = email[:strings.Index(email, "@")]
			}

			profile, err = ensureProfile(r.Context(), repo, profile)
			if err != nil {
				http.Error(w, `{"error":"failed to initialize user profile"}`, http.StatusInternalServerError)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithProfile(r.Context(), profile)))
		})
	}
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
