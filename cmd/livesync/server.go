package main

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/loyaltyconsole/livesync/internal/api"
	"github.com/loyaltyconsole/livesync/internal/config"
	"github.com/loyaltyconsole/livesync/internal/livesync"
)

// sessionSecretHeader carries metrics.session_secret on session hooks.
const sessionSecretHeader = "X-Session-Secret"

// newHandler creates the HTTP handler for health, metrics, session hooks
// and cached data.
func newHandler(svc *livesync.Service, cfg config.MetricsConfig, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	session := func(h http.HandlerFunc) http.Handler {
		return requireSession(cfg.SessionSecret, h, logger)
	}

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		health := svc.Health(r.Context())

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(health)
	})

	mux.Handle("GET "+cfg.Path, svc.Metrics().Handler())

	mux.Handle("POST /login", session(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Token string `json:"token"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, "invalid login body", http.StatusBadRequest)
			return
		}

		if err := svc.Login(r.Context(), req.Token); err != nil {
			logger.Warn("login completed with errors", "error", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	mux.Handle("POST /logout", session(func(w http.ResponseWriter, r *http.Request) {
		svc.Logout()
		w.WriteHeader(http.StatusNoContent)
	}))

	mux.HandleFunc("GET /data/{key...}", func(w http.ResponseWriter, r *http.Request) {
		key := r.PathValue("key")
		if r.URL.RawQuery != "" {
			key += "?" + r.URL.RawQuery
		}

		start := time.Now()
		body, err := svc.Cache().Get(r.Context(), key)
		if err != nil {
			var apiErr *api.APIError
			switch {
			case errors.As(err, &apiErr):
				http.Error(w, apiErr.Message, apiErr.StatusCode)
			default:
				logger.Warn("cache read failed", "key", key, "error", err)
				http.Error(w, "upstream unavailable", http.StatusBadGateway)
			}
			return
		}

		logger.Debug("served cached data", "key", key, "duration", time.Since(start))
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	})

	return mux
}

// requireSession admits callers presenting secret in sessionSecretHeader.
// With no secret configured only loopback callers are admitted.
func requireSession(secret string, next http.Handler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if secret == "" {
			if !isLoopback(r.RemoteAddr) {
				logger.Warn("rejected session hook from remote caller", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
				http.Error(w, "session hooks are limited to loopback callers", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		got := r.Header.Get(sessionSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			logger.Warn("rejected session hook with bad secret", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
			http.Error(w, "invalid session secret", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
