// Package api implements the HTTP REST API and WebSocket server of the hub.
//
// This package provides:
//   - REST endpoints under /api/v1 for devices, hardware, rules,
//     notifications, users and the activity log
//   - a WebSocket hub that streams device changes, hardware status and
//     rule executions to subscribed clients
//   - JWT authentication with per-role permission checks
//   - /health and the Prometheus /metrics endpoint
//
// # Architecture
//
// Reads go to the device registry cache. Commands go through the
// mainworker, which resolves the owning hardware adapter. The Hub is a
// mainworker subscriber and a hardware listener, so every stored change
// reaches WebSocket clients without polling.
//
// # Security
//
// Protected routes need an "Authorization: Bearer <access token>" header.
// WebSocket connections authenticate with a single-use ticket from
// POST /api/v1/auth/ws-ticket so tokens never appear in URLs.
package api
