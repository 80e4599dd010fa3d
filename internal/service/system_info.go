// Package service holds the control plane operations behind the HTTP API.
// Collaborators are interfaces so handlers can be tested with stubs.
package service

import "time"

// SystemInfo is the build and account summary served by /system/info.
type SystemInfo struct {
	Version   string    `json:"version"`
	GitCommit string    `json:"git_commit"`
	BuildTime string    `json:"build_time"`
	StartedAt time.Time `json:"started_at"`
	APIMode   string    `json:"api_mode"`
	League    string    `json:"league"`
}
