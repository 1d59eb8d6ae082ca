// Package server assembles the vodforge HTTP surface behind one multiplexer.
//
// The server builds a consistent middleware chain of request IDs, security
// headers, CORS, rate limiting, metrics, and logging so handlers all share
// common protections and instrumentation. It serves the upload and catalog
// API and exposes the transcoded output tree for playback under /media/.
package server
