// Package api implements the JSON task API and the session endpoints.
//
// Routes:
//
//	POST   /auth/login               public
//	POST   /auth/logout              public
//	GET    /me                       public, 401 without a session
//	GET    /api/todos                any session
//	GET    /api/todos/{id}           any session
//	POST   /api/todos                admin
//	PUT    /api/todos/{id}           admin
//	POST   /api/todos/{id}/complete  admin
//	DELETE /api/todos/{id}           admin
//
// The server wraps the mux in auth.Engine.Middleware, so handlers here only
// see requests that passed the default policy. Errors are JSON objects with
// an "error" key; validation failures add "field" and "reason".
package api
