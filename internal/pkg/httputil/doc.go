// Package httputil provides shared HTTP response/request utilities for the
// API handlers.
//
// Handlers use these helpers instead of writing raw http.ResponseWriter
// calls, so JSON formatting, error envelopes, pagination and logging stay
// consistent across endpoints.
package httputil
