// Package httpserver exposes the relay's HTTP surface.
//
// # Endpoints
//
//   - POST /mcp            - forward a JSON-RPC request to the upstream MCP
//     server, minting an Mcp-Session-Id when the client has none
//   - GET  /mcp/stream     - relay the upstream SSE stream with transparent
//     reconnection and duplicate suppression; terminal failures surface as
//     an `event: transport-error` frame
//   - GET    /v1/sessions       - list sessions with cursor and idle state
//   - GET    /v1/sessions/{id}  - one session
//   - DELETE /v1/sessions/{id}  - drop a session, its cursor, and its capture log
//   - GET    /v1/sessions/{id}/events - page through the frames delivered to
//     this session (pebble backend only; ?from=seq&limit=n)
//   - GET  /v1/healthz     - store reachability
//   - GET  /metrics        - Prometheus metrics
package httpserver
