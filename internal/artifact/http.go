package artifact

import (
	"encoding/json"
	"mime"
	"net/http"
	"path/filepath"

	"github.com/gorilla/mux"

	"github.com/browsergate/browsergate/pkg/models"
)

// HTTPServer exposes artifacts over a side HTTP channel. It reuses the
// manager's Resolve/List and layers bearer-token authorization on top; the
// core stays agnostic to whether clients fetch inline or over HTTP.
type HTTPServer struct {
	artifacts    *Manager
	token        string
	authRequired bool
}

// NewHTTPServer creates the artifact HTTP front.
func NewHTTPServer(artifacts *Manager, token string, authRequired bool) *HTTPServer {
	return &HTTPServer{artifacts: artifacts, token: token, authRequired: authRequired}
}

// Handler builds the route table.
func (s *HTTPServer) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")

	protected := r.PathPrefix("/artifacts").Subrouter()
	protected.Use(s.authMiddleware)
	protected.HandleFunc("/{workspace}", s.handleList).Methods("GET")
	protected.HandleFunc("/{workspace}/{path:.*}", s.handleGet).Methods("GET")

	return r
}

// authMiddleware accepts either an Authorization bearer header or a token
// query parameter, matching the control channel's token.
func (s *HTTPServer) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authRequired && s.token != "" {
			header := r.Header.Get("Authorization")
			query := r.URL.Query().Get("token")
			if header != "Bearer "+s.token && query != s.token {
				writeError(w, http.StatusUnauthorized, models.NewError(
					models.CodeAuthenticationRequired, "missing or invalid bearer token"))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

func (s *HTTPServer) handleList(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	refs, err := s.artifacts.List(vars["workspace"])
	if err != nil {
		writeError(w, http.StatusInternalServerError, models.NewError(
			models.CodeEngineFailure, "failed to list artifacts"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"artifacts": refs})
}

func (s *HTTPServer) handleGet(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	path, err := s.artifacts.Resolve(vars["workspace"], vars["path"])
	if err != nil {
		switch models.CodeOf(err) {
		case models.CodeAccessDenied:
			writeError(w, http.StatusForbidden, err)
		default:
			writeError(w, http.StatusNotFound, err)
		}
		return
	}

	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	http.ServeFile(w, r, path)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	ge, ok := err.(*models.Error)
	if !ok {
		ge = models.NewError(models.CodeEngineFailure, "%s", err.Error())
	}
	json.NewEncoder(w).Encode(map[string]any{"error": ge})
}
