// Package server assembles tasktrack into one HTTP service.
//
// # Request pipeline
//
// Every request passes through the same chain, outermost first:
//
//	recoverPanics -> metrics.Middleware -> auth.Engine.Middleware -> ServeMux
//
// The policy engine sees every route. Health checks, static assets and the
// metrics scrape path are registered as exemptions; everything else needs a
// session, and task writes additionally need the admin role.
//
// # Routes
//
//	GET  /health              liveness, always "OK"
//	GET  /health/ready        readiness, pings the store
//	GET  /metrics             Prometheus scrape (when enabled)
//	GET  /static/...          fingerprinted CSS and JS
//	GET  /live/tasks          websocket stream of task events
//	POST /auth/login, /auth/logout, GET /me
//	     /api/todos...        JSON task API
//	GET  /, /login, /todos... server-rendered pages
//
// # Listeners
//
// The server listens on server.http_addr, or joins a tailnet through tsnet
// when tailscale.enabled is set. Under tsnet the pages reach the API
// through the tsnet dialer unless server.bridge_base_url names an address.
//
// # Shutdown
//
// Run blocks until its context is cancelled, then closes the live hub, the
// HTTP server, the tsnet node and the store, in that order.
package server
