// Package httpapi is the thin net/http.ServeMux boundary of spec.md §6: it
// decodes the resumable.js-compatible wire protocol, calls into
// internal/fileservice, and maps apperr.Error values to the exact HTTP
// status/JSON bodies the wire protocol specifies. Routing follows the
// teacher's bare-ServeMux style (see cmd/server/main.go in the teacher
// repo) rather than a router library — no pack example contributes a
// router the teacher itself would have reached for.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"

	"groupbin/internal/apperr"
	"groupbin/internal/fileservice"
	"groupbin/internal/upload"
)

// Server wires fileservice.Service into HTTP handlers.
type Server struct {
	svc    *fileservice.Service
	logger *slog.Logger
	mux    *http.ServeMux
}

// New builds a Server and registers its routes.
func New(svc *fileservice.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{svc: svc, logger: logger, mux: http.NewServeMux()}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	methodOverride(r)
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/upload", s.handleUpload)
	s.mux.HandleFunc("/download/", s.handleDownloadLatest)
	s.mux.HandleFunc("/delete/", s.handleDeleteFile)
	s.mux.HandleFunc("/zip/", s.handleBundleGroup)
	s.mux.HandleFunc("/", s.handleVersionDownload)
}

// methodOverride rewrites the request method per spec.md §6: "any POST
// body carrying _method=<VERB> ... is rewritten to that verb before
// routing." Only applies to form-encoded POSTs; multipart uploads never
// carry this field.
func methodOverride(r *http.Request) {
	if r.Method != http.MethodPost {
		return
	}
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		return
	}
	if err := r.ParseForm(); err != nil {
		return
	}
	verb := strings.ToUpper(r.PostForm.Get("_method"))
	switch verb {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
		r.Method = verb
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps err to the HTTP status/JSON shape spec.md §6 requires
// per endpoint; errors that are not apperr values surface as a 500 with
// {"error":"internal_error"}.
func writeError(w http.ResponseWriter, err error, extra map[string]any) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal_error"})
		return
	}

	body := map[string]any{"error": appErr.WireCode()}
	for k, v := range extra {
		body[k] = v
	}
	writeJSON(w, appErr.HTTPStatus(), body)
}

// --- Probe / Ingest ---

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleProbe(w, r)
	case http.MethodPost:
		s.handleIngest(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func parseChunkParamsFromQuery(q interface{ Get(string) string }) (upload.ChunkParams, error) {
	chunkNumber, err := strconv.Atoi(q.Get("resumableChunkNumber"))
	if err != nil {
		return upload.ChunkParams{}, fmt.Errorf("invalid resumableChunkNumber: %w", err)
	}
	totalChunks, err := strconv.Atoi(q.Get("resumableTotalChunks"))
	if err != nil {
		return upload.ChunkParams{}, fmt.Errorf("invalid resumableTotalChunks: %w", err)
	}
	totalSize, err := strconv.ParseInt(q.Get("resumableTotalSize"), 10, 64)
	if err != nil {
		return upload.ChunkParams{}, fmt.Errorf("invalid resumableTotalSize: %w", err)
	}
	currentChunkSize, err := strconv.ParseInt(q.Get("resumableCurrentChunkSize"), 10, 64)
	if err != nil {
		return upload.ChunkParams{}, fmt.Errorf("invalid resumableCurrentChunkSize: %w", err)
	}

	return upload.ChunkParams{
		Identifier:       q.Get("resumableIdentifier"),
		ChunkNumber:      chunkNumber,
		TotalChunks:      totalChunks,
		TotalSize:        totalSize,
		CurrentChunkSize: currentChunkSize,
		Filename:         q.Get("resumableFilename"),
		GroupID:          q.Get("groupId"),
		FileID:           q.Get("fileId"),
		Uploader:         q.Get("uploader"),
		Description:      q.Get("description"),
		Comment:          q.Get("comment"),
	}, nil
}

func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	params, err := parseChunkParamsFromQuery(r.URL.Query())
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	result, err := s.svc.ProbeChunk(params)
	if err != nil {
		writeError(w, err, map[string]any{"max_size": params.TotalSize})
		return
	}

	if result == upload.ProbeFound {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("found"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	params, err := parseChunkParamsFromQuery(formValues(r.MultipartForm.Value))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	defer file.Close()

	outcome, result, err := s.svc.IngestChunk(r.Context(), params, file)
	if err != nil {
		extra := map[string]any{}
		if apperr.Is(err, apperr.KindFileTooLarge) {
			extra["max_size"] = params.TotalSize
		}
		if apperr.Is(err, apperr.KindReadOnlyGroup) {
			extra["is_readonly"] = true
		}
		if apperr.Is(err, apperr.KindMergeFailed) {
			extra["group_id"] = params.GroupID
		}
		writeError(w, err, extra)
		return
	}

	if outcome == upload.Committed {
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true, "file_id": result.FileID, "group_id": params.GroupID,
		})
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("chunk_uploaded"))
}

type formValues map[string][]string

func (f formValues) Get(key string) string {
	if vs, ok := f[key]; ok && len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// --- Downloads ---

// handleVersionDownload serves GET /<group_id>/<file_id>/version/<version_id>.
func (s *Server) handleVersionDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	parts := splitPath(r.URL.Path)
	if len(parts) != 4 || parts[2] != "version" {
		http.NotFound(w, r)
		return
	}
	groupID, fileID, versionID := parts[0], parts[1], parts[3]

	rc, filename, err := s.svc.FetchVersion(r.Context(), groupID, fileID, versionID)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	defer rc.Close()

	streamAttachment(w, filename, rc)
}

// handleDownloadLatest serves GET /download/<group_id>/<file_id> with a
// 302 redirect to the latest version's URL.
func (s *Server) handleDownloadLatest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	parts := splitPath(strings.TrimPrefix(r.URL.Path, "/download"))
	if len(parts) != 2 {
		http.NotFound(w, r)
		return
	}
	groupID, fileID := parts[0], parts[1]

	latest, err := s.svc.LatestVersion(r.Context(), fileID)
	if err != nil {
		writeError(w, err, nil)
		return
	}

	target := fmt.Sprintf("/%s/%s/version/%s", groupID, fileID, latest.ID)
	http.Redirect(w, r, target, http.StatusFound)
}

// handleDeleteFile serves POST or DELETE /delete/<group_id>/<file_id>.
func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	parts := splitPath(strings.TrimPrefix(r.URL.Path, "/delete"))
	if len(parts) != 2 {
		http.NotFound(w, r)
		return
	}
	groupID, fileID := parts[0], parts[1]

	if err := s.svc.DeleteFile(r.Context(), groupID, fileID); err != nil {
		writeError(w, err, nil)
		return
	}
	http.Redirect(w, r, "/"+groupID, http.StatusFound)
}

// handleBundleGroup serves GET /zip/<group_id>.
func (s *Server) handleBundleGroup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	parts := splitPath(strings.TrimPrefix(r.URL.Path, "/zip"))
	if len(parts) != 1 {
		http.NotFound(w, r)
		return
	}
	groupID := parts[0]

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="group_%s_files.zip"`, groupID))
	if err := s.svc.BundleGroup(r.Context(), groupID, w); err != nil {
		s.logger.Error("httpapi: bundle_group failed", "group", groupID, "error", err)
	}
}

func streamAttachment(w http.ResponseWriter, filename string, rc io.Reader) {
	ct := mime.TypeByExtension(path.Ext(filename))
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	_, _ = io.Copy(w, rc)
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}
