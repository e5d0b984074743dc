// Package bridge lets server-rendered pages call the task API as the user
// who requested the page.
//
// A Client is built from the inbound *http.Request: its base URL comes from
// the request's scheme and Host, and its cookie jar is seeded with every
// cookie the browser sent. The API therefore sees the same session as a
// direct browser call and applies the same policy. Build a new Client for
// every request and drop it when the request ends.
package bridge
