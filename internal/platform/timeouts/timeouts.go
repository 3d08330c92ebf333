// Package timeouts defines shared timeout constants for the messenger
// process. Centralizing the values keeps the realtime and REST surfaces
// from drifting apart.
package timeouts

import "time"

// ReadHeader limits how long the HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long the HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second

// StorageWrite caps a single ledger write issued from a connection loop.
const StorageWrite = 3 * time.Second
