package api

import (
	"net/http"
	"time"
)

const (
	// accessTokenCookie carries the access token for browser clients. API
	// clients may send the same token as a Bearer header instead.
	accessTokenCookie = "access_token"

	// refreshTokenCookie is scoped to the auth endpoints so the long-lived
	// token never travels with ordinary API requests.
	refreshTokenCookie = "refresh_token"

	refreshCookiePath = "/api/v1/auth"
)

// CookieSettings carries the config-driven cookie attributes.
type CookieSettings struct {
	Domain   string
	Secure   bool
	SameSite http.SameSite

	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// setAuthCookies writes both token cookies.
func (cs CookieSettings) setAuthCookies(w http.ResponseWriter, access, refresh string) {
	http.SetCookie(w, &http.Cookie{
		Name:     accessTokenCookie,
		Value:    access,
		MaxAge:   int(cs.AccessTTL.Seconds()),
		HttpOnly: true,
		Secure:   cs.Secure,
		SameSite: cs.SameSite,
		Domain:   cs.Domain,
		Path:     "/",
	})
	http.SetCookie(w, &http.Cookie{
		Name:     refreshTokenCookie,
		Value:    refresh,
		MaxAge:   int(cs.RefreshTTL.Seconds()),
		HttpOnly: true,
		Secure:   cs.Secure,
		SameSite: cs.SameSite,
		Domain:   cs.Domain,
		Path:     refreshCookiePath,
	})
}

// clearAuthCookies expires both token cookies immediately.
func (cs CookieSettings) clearAuthCookies(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     accessTokenCookie,
		Value:    "",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   cs.Secure,
		SameSite: cs.SameSite,
		Domain:   cs.Domain,
		Path:     "/",
	})
	http.SetCookie(w, &http.Cookie{
		Name:     refreshTokenCookie,
		Value:    "",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   cs.Secure,
		SameSite: cs.SameSite,
		Domain:   cs.Domain,
		Path:     refreshCookiePath,
	})
}
