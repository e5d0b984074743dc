// Package webui serves the server-rendered task pages.
//
// Pages never read the store. Each handler builds a bridge.Client from the
// inbound request and calls the JSON API as that user, so the same policy
// applies to a browser form and to an external API client.
//
// Form posts carry a CSRF token that must match the tasktrack_csrf cookie.
// Login itself posts straight to /auth/login; on failure the API calls back
// into LoginFailure to re-render the form.
package webui
