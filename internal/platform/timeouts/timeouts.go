// Package timeouts defines shared timeout constants used across the service.
// Centralizing these values prevents drift between boundaries and makes the
// durations discoverable.
package timeouts

import "time"

// Shutdown limits how long the server waits for in-flight work during
// graceful shutdown.
const Shutdown = 5 * time.Second

// SweepQuery caps the time a single lock-reclamation sweep may spend against
// the store before giving up until the next interval.
const SweepQuery = 10 * time.Second
