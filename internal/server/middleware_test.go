package server

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
}

func TestRequestAuthDisabledWithoutKey(t *testing.T) {
	h := requestAuth("", okHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestAuthAcceptsEitherHeader(t *testing.T) {
	h := requestAuth("sekrit", okHandler())

	bearer := httptest.NewRequest(http.MethodGet, "/api/metrics", nil)
	bearer.Header.Set("Authorization", "Bearer sekrit")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, bearer)
	require.Equal(t, http.StatusOK, rec.Code)

	keyed := httptest.NewRequest(http.MethodGet, "/api/metrics", nil)
	keyed.Header.Set("X-API-Key", "sekrit")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, keyed)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestAuthRejectsBadOrMissingKey(t *testing.T) {
	h := requestAuth("sekrit", okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/metrics", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Body.String(), "missing credentials")

	wrong := httptest.NewRequest(http.MethodGet, "/api/metrics", nil)
	wrong.Header.Set("X-API-Key", "guess")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, wrong)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Body.String(), "invalid credentials")
}

func TestRequestLogCapturesStatus(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := requestLog(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/metrics", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)
}

func TestAllowCORSPreflightAndOriginList(t *testing.T) {
	h := allowCORS([]string{"https://ops.example"}, okHandler())

	pre := httptest.NewRequest(http.MethodOptions, "/api/positions", nil)
	pre.Header.Set("Origin", "https://ops.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, pre)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "https://ops.example", rec.Header().Get("Access-Control-Allow-Origin"))

	foreign := httptest.NewRequest(http.MethodGet, "/api/positions", nil)
	foreign.Header.Set("Origin", "https://elsewhere.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, foreign)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
