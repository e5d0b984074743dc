// ABOUTME: Serves the embedded stylesheet and scripts under /static/ with cache headers
// ABOUTME: Fingerprints each file at startup so templates can emit cache-busting URLs

// Package assets serves the UI's static files embedded via go:embed. Every
// file gets a content fingerprint; URLs built with Path carry it as a query
// parameter so the file server can mark them immutable.
package assets

import (
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"io/fs"
	"mime"
	"net/http"
	"path"
	"strings"
)

//go:embed static
var staticFS embed.FS

// Prefix is the URL path the file server is mounted under.
const Prefix = "/static/"

// fingerprints maps a file name relative to static/ to a short content hash.
var fingerprints = map[string]string{}

func init() {
	// Register MIME types that may not be in the default database.
	_ = mime.AddExtensionType(".woff2", "font/woff2")
	_ = mime.AddExtensionType(".map", "application/json")

	_ = fs.WalkDir(staticFS, "static", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := staticFS.ReadFile(p)
		if err != nil {
			return err
		}
		fingerprints[strings.TrimPrefix(p, "static/")] = fingerprint(data)
		return nil
	})
}

func fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:5])
}

// Path returns the URL for an embedded file, versioned by its content.
// Unknown names get an unversioned URL.
func Path(name string) string {
	name = strings.TrimPrefix(name, "/")
	if fp, ok := fingerprints[name]; ok {
		return Prefix + name + "?v=" + fp
	}
	return Prefix + name
}

// isCurrent reports whether the request names the current version of the file.
func isCurrent(r *http.Request) bool {
	name := strings.TrimPrefix(r.URL.Path, "/")
	fp, ok := fingerprints[name]
	return ok && r.URL.Query().Get("v") == fp
}

// mimeFromExt returns the MIME type for a file extension.
// Falls back to the Go standard library's MIME type database,
// then to "application/octet-stream" if unknown.
func mimeFromExt(ext string) string {
	switch ext {
	case ".js", ".mjs":
		return "application/javascript"
	case ".css":
		return "text/css; charset=utf-8"
	case ".svg":
		return "image/svg+xml"
	default:
		if ct := mime.TypeByExtension(ext); ct != "" {
			return ct
		}
		return "application/octet-stream"
	}
}

// FileServer returns an http.Handler for the embedded files. Versioned
// requests get immutable cache headers; everything else gets no-cache.
// Mount it behind http.StripPrefix(Prefix, ...).
func FileServer() http.Handler {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic("assets: failed to create sub filesystem: " + err.Error())
	}
	fileServer := http.FileServer(http.FS(sub))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ext := strings.ToLower(path.Ext(r.URL.Path))
		if ext != "" {
			w.Header().Set("Content-Type", mimeFromExt(ext))
		}

		if isCurrent(r) {
			w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		} else {
			w.Header().Set("Cache-Control", "no-cache")
		}

		fileServer.ServeHTTP(w, r)
	})
}
