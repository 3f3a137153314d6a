package webserver

import (
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/sidesync/sidesync/internal/audit"
)

// staticHandler returns the file-serving handler: CORS and cache headers,
// the OPTIONS short-circuit, the path containment check, and request
// counters around a FileServer rooted at the content directory.
func (s *Server) staticHandler() http.Handler {
	files := http.FileServer(http.Dir(s.cfg.Dir))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.CORS {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", strings.Join(s.cfg.CORSMethods, ", "))
			w.Header().Set("Access-Control-Allow-Headers", strings.Join(s.cfg.CORSHeaders, ", "))
		}
		if s.cfg.CacheEnabled {
			w.Header().Set("Cache-Control", fmt.Sprintf("max-age=%d", s.cfg.CacheMaxAge))
		}

		if r.Method == http.MethodOptions && s.cfg.CORS {
			w.WriteHeader(http.StatusOK)
			s.served.Add(1)
			return
		}

		if s.cfg.ValidatePaths && !s.pathAllowed(r.URL.Path) {
			s.denied.Add(1)
			s.logger.Printf("denied path outside content directory: %q from %s", r.URL.Path, r.RemoteAddr)
			s.audit.Record(audit.EventAccessDenied, audit.SeverityWarning,
				"webserver", "request outside content directory refused", map[string]any{
					"caminho": r.URL.Path,
					"origem":  r.RemoteAddr,
				})
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		if s.cfg.Debug {
			s.logger.Printf("%s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
		}

		// FileServer only knows index.html; other index names are
		// rewritten onto directory requests.
		if s.cfg.IndexFile != "index.html" && strings.HasSuffix(r.URL.Path, "/") {
			r2 := new(http.Request)
			*r2 = *r
			r2.URL = new(url.URL)
			*r2.URL = *r.URL
			r2.URL.Path += s.cfg.IndexFile
			r = r2
		}

		s.served.Add(1)
		files.ServeHTTP(w, r)
	})
}

// pathAllowed reports whether urlPath resolves to a location inside the
// content directory. The raw request path is joined and checked without
// normalizing it first, so traversal segments are caught as sent.
func (s *Server) pathAllowed(urlPath string) bool {
	root, err := filepath.Abs(s.cfg.Dir)
	if err != nil {
		return false
	}

	target := filepath.Join(root, filepath.FromSlash(urlPath))
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
