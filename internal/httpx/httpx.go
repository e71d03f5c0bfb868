// Package httpx holds the shared HTTP client for outbound provider
// calls.
package httpx

import (
	"net/http"
	"time"
)

// externalTimeout bounds every outbound API call including body read.
// Completions with large outputs run long, so it is generous.
const externalTimeout = 120 * time.Second

// Shared is the process-wide client for provider API calls.
var Shared = &http.Client{
	Timeout: externalTimeout,
}
