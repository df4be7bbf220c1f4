package http

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// How a scheduler-triggered request was authorized.
const (
	ViaAdmin             = "admin"
	ViaSecret            = "secret"
	ViaPlatformScheduler = "platform-scheduler"
)

// AuthConfig holds the credentials for the admin API and the
// externally-triggered job endpoints.
type AuthConfig struct {
	// CronSecret is the pre-shared secret accepted via the x-cron-secret
	// header or the secret query parameter.
	CronSecret string

	// AdminToken authorizes the admin dashboard (Authorization: Bearer).
	AdminToken string

	// AllowPlatformScheduler opts in to heuristic detection of the
	// hosting platform's own cron (header/user-agent signals only). Off
	// by default: prefer the secret. Time-of-day guessing is deliberately
	// not part of the heuristic.
	AllowPlatformScheduler bool
}

// AdminAuth reports whether the request carries a valid admin bearer token.
func (a AuthConfig) AdminAuth(r *http.Request) bool {
	if a.AdminToken == "" {
		return false
	}
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(a.AdminToken)) == 1
}

// SchedulerAuth authorizes an externally-triggered job request and reports
// which mechanism matched.
func (a AuthConfig) SchedulerAuth(r *http.Request) (via string, ok bool) {
	if a.AdminAuth(r) {
		return ViaAdmin, true
	}

	if a.CronSecret != "" {
		candidate := r.Header.Get("x-cron-secret")
		if candidate == "" {
			candidate = r.URL.Query().Get("secret")
		}
		if candidate != "" && subtle.ConstantTimeCompare([]byte(candidate), []byte(a.CronSecret)) == 1 {
			return ViaSecret, true
		}
	}

	if a.AllowPlatformScheduler && looksLikePlatformScheduler(r) {
		return ViaPlatformScheduler, true
	}

	return "", false
}

// looksLikePlatformScheduler checks for signals the hosting platform's cron
// sets on its own requests. This path exists because some platforms cannot
// attach custom headers; it is a weak check and stays behind an opt-in flag.
func looksLikePlatformScheduler(r *http.Request) bool {
	if r.Header.Get("x-vercel-cron") != "" {
		return true
	}
	ua := strings.ToLower(r.Header.Get("User-Agent"))
	return strings.Contains(ua, "vercel-cron")
}
