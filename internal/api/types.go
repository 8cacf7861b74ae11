package api

import (
	"github.com/mattjoyce/transformd/internal/history"
	"github.com/mattjoyce/transformd/internal/transform"
)

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string   `json:"status"`
	UptimeSeconds int64    `json:"uptime_seconds"`
	EnginesLoaded int      `json:"engines_loaded"`
	Engines       []string `json:"engines"`
}

// ReadyzResponse is returned by GET /readyz.
type ReadyzResponse struct {
	Status  string                   `json:"status"`
	Engines []transform.Availability `json:"engines"`
}

// VersionResponse is returned by GET /version.
type VersionResponse struct {
	Service           string `json:"service"`
	Version           string `json:"version"`
	GoVersion         string `json:"go_version"`
	Commit            string `json:"commit,omitempty"`
	ConfigFingerprint string `json:"config_fingerprint,omitempty"`
}

// HistoryResponse is returned by GET /history.
type HistoryResponse struct {
	Entries []history.Entry `json:"entries"`
}
