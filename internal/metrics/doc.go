// Package metrics exposes Prometheus metrics for tasktrack.
//
// Request metrics are labelled by a coarse route class (api, auth, ui, live,
// static, other) rather than the raw path, so unknown URLs cannot grow the
// series count. Metrics also implements auth.Recorder to count challenges,
// forbidden responses and login attempts.
package metrics
