// Package api implements C8, the local HTTP/WS surface: the full REST
// and WebSocket contract the browser IDE speaks to the bridge daemon
// over (spec §6.1).
package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/alvinchoong/go-httphandler"

	"github.com/vibefoundry/vibefoundry-bridge/internal/apierr"
	"github.com/vibefoundry/vibefoundry-bridge/internal/metadata"
	"github.com/vibefoundry/vibefoundry-bridge/internal/policy"
	"github.com/vibefoundry/vibefoundry-bridge/internal/project"
	"github.com/vibefoundry/vibefoundry-bridge/internal/scripts"
	"github.com/vibefoundry/vibefoundry-bridge/internal/sync"
	"github.com/vibefoundry/vibefoundry-bridge/internal/syncclient"
	"github.com/vibefoundry/vibefoundry-bridge/internal/term"
	"github.com/vibefoundry/vibefoundry-bridge/internal/tree"
	"github.com/vibefoundry/vibefoundry-bridge/internal/watch"
)

// Server wires every component behind the HTTP/WS surface. RemoteURL is
// called on every request that talks to the remote sandbox, so each such
// request uses the base URL it returns at that moment.
type Server struct {
	Policy    *policy.Classifier
	Tree      *tree.Scanner
	Bus       *watch.Bus
	SyncClient *syncclient.Client
	Sync      *sync.Synchronizer
	Vector    *sync.Vector
	Runner    *scripts.Runner
	Terminals *term.Manager
	Projects  *project.Manager
	RemoteURL func() (string, bool)
}

// Router builds the full mux for the local HTTP/WS surface.
func (s *Server) Router() *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("/api/folder/select", serve(s.handleFolderSelect))
	mux.Handle("/api/fs/home", serve(s.handleFSHome))
	mux.Handle("/api/fs/list", serve(s.handleFSList))
	mux.Handle("/api/files/tree", serve(s.handleFilesTree))
	mux.Handle("/api/files/read", serve(s.handleFilesRead))
	mux.Handle("/api/files/write", serve(s.handleFilesWrite))
	mux.Handle("/api/files/delete", serve(s.handleFilesDelete))
	mux.Handle("/api/scripts", serve(s.handleScriptsList))
	mux.Handle("/api/scripts/run", serve(s.handleScriptsRun))
	mux.Handle("/api/pip/install", serve(s.handlePipInstall))
	mux.Handle("/api/metadata/generate", serve(s.handleMetadataGenerate))
	mux.Handle("/api/dataframe/rows", serve(s.handleDataframeRows))
	mux.Handle("/api/dataframe/query", serve(s.handleDataframeQuery))
	mux.Handle("/api/sync/pull", serve(s.handleSyncPull))
	mux.Handle("/api/sync/push", serve(s.handleSyncPush))
	mux.Handle("/api/sync/full", serve(s.handleSyncFull))
	mux.Handle("/api/github/device-code", serve(s.handleGithubDeviceCode))
	mux.Handle("/api/github/token", serve(s.handleGithubToken))

	mux.HandleFunc("/ws/watch", s.handleWatchWS)
	mux.HandleFunc("/ws/terminal", s.handleTerminalWS)

	return mux
}

// serve adapts an httphandler.RequestHandler into a plain
// http.HandlerFunc, the way the teacher's websocket.go wires its own
// chat-bridge handler into the mux.
func serve(h httphandler.RequestHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h(r).Respond(w, r)
	}
}

// jsonResponder writes v as a JSON body with the given status code.
type jsonResponder struct {
	status int
	body   interface{}
}

func (j jsonResponder) Respond(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(j.status)
	json.NewEncoder(w).Encode(j.body)
}

func jsonOK(body interface{}) httphandler.Responder {
	return jsonResponder{status: http.StatusOK, body: body}
}

// errResponder renders err as the standard {"detail": "..."} envelope
// with the status matching its apierr.Kind.
func errResponder(err error) httphandler.Responder {
	apiErr := apierr.AsAPIError(err)
	return jsonResponder{status: apiErr.Status(), body: apierr.Envelope{Detail: apiErr.Error()}}
}

func (s *Server) projectRoot() (string, error) {
	info, ok := s.Projects.Current()
	if !ok {
		return "", apierr.New(apierr.KindConflict, "no project selected")
	}
	return info.Path, nil
}

func (s *Server) remoteURL() (string, error) {
	url, ok := s.RemoteURL()
	if !ok || url == "" {
		return "", apierr.New(apierr.KindConflict, "no remote sandbox configured")
	}
	return url, nil
}

// --- C9: folder selection -------------------------------------------------

type folderSelectRequest struct {
	Path string `json:"path"`
}

func (s *Server) handleFolderSelect(r *http.Request) httphandler.Responder {
	var req folderSelectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		return errResponder(apierr.New(apierr.KindInvalidRequest, "path is required"))
	}
	info, err := s.Projects.Select(req.Path)
	if err != nil {
		return errResponder(apierr.Wrap(apierr.KindInvalidRequest, "selecting project", err))
	}
	return jsonOK(map[string]string{"name": info.Name, "path": info.Path})
}

// --- fs browsing, for the folder-picker dialog ---------------------------

func (s *Server) handleFSHome(r *http.Request) httphandler.Responder {
	home, err := os.UserHomeDir()
	if err != nil {
		return errResponder(apierr.Wrap(apierr.KindInternal, "resolving home directory", err))
	}
	return jsonOK(map[string]string{"path": home})
}

type fsEntry struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	IsDir bool   `json:"is_dir"`
}

func (s *Server) handleFSList(r *http.Request) httphandler.Responder {
	dir := r.URL.Query().Get("path")
	if dir == "" {
		return errResponder(apierr.New(apierr.KindInvalidRequest, "path query parameter is required"))
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errResponder(apierr.Wrap(apierr.KindNotFound, "listing directory", err))
	}
	out := make([]fsEntry, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		out = append(out, fsEntry{Name: e.Name(), Path: filepath.Join(dir, e.Name()), IsDir: true})
	}
	return jsonOK(map[string]interface{}{"entries": out})
}

// --- C2: file tree ---------------------------------------------------------

func (s *Server) handleFilesTree(r *http.Request) httphandler.Responder {
	root, err := s.projectRoot()
	if err != nil {
		return errResponder(err)
	}
	node, deleted, err := s.Tree.Scan(root)
	if err != nil {
		return errResponder(apierr.Wrap(apierr.KindInternal, "scanning tree", err))
	}
	for _, d := range deleted {
		log.Printf("[API] auto-deleted %s during scan: %v", d.RelPath, d.Err)
	}
	return jsonOK(map[string]interface{}{
		"tree": node,
		"hash": tree.ScanHash(node),
	})
}

// --- C1-gated file read/write/delete --------------------------------------

// binaryReadExtensions mirrors the original server's binary_extensions set:
// files the browser should receive base64-encoded rather than as text.
var binaryReadExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".bmp": true,
	".ico": true, ".webp": true, ".pdf": true, ".zip": true, ".tar": true, ".gz": true,
}

// dataframeReadExtensions mirrors the original server's dataframe_extensions
// set: files previewed as a table rather than raw content.
var dataframeReadExtensions = map[string]bool{
	".csv": true, ".xlsx": true, ".xls": true,
}

func (s *Server) handleFilesRead(r *http.Request) httphandler.Responder {
	root, err := s.projectRoot()
	if err != nil {
		return errResponder(err)
	}
	rel := r.URL.Query().Get("path")
	if rel == "" {
		return errResponder(apierr.New(apierr.KindInvalidRequest, "path query parameter is required"))
	}
	full, err := safeJoin(root, rel)
	if err != nil {
		return errResponder(apierr.Wrap(apierr.KindPolicyViolation, "resolving path", err))
	}
	info, err := os.Stat(full)
	if err != nil {
		return errResponder(apierr.Wrap(apierr.KindNotFound, "reading file", err))
	}
	if info.IsDir() {
		return errResponder(apierr.New(apierr.KindInvalidRequest, "path is not a file"))
	}

	ext := strings.ToLower(filepath.Ext(full))
	filename := filepath.Base(full)

	if dataframeReadExtensions[ext] {
		if ext != ".csv" {
			// No xlsx/xls parser in this stack; see DESIGN.md.
			return jsonOK(map[string]interface{}{"type": "unsupported", "filename": filename})
		}
		header, rows, csvErr := readCSVRows(full, 0)
		if csvErr != nil {
			return errResponder(apierr.Wrap(apierr.KindInternal, "parsing dataframe", csvErr))
		}
		data := make([]map[string]string, 0, len(rows))
		for _, row := range rows {
			record := make(map[string]string, len(header))
			for i, col := range header {
				if i < len(row) {
					record[col] = row[i]
				} else {
					record[col] = ""
				}
			}
			data = append(data, record)
		}
		return jsonOK(map[string]interface{}{
			"type":      "dataframe",
			"columns":   header,
			"data":      data,
			"filename":  filename,
			"rowCount":  len(data),
			"truncated": false,
		})
	}

	if binaryReadExtensions[ext] {
		content, readErr := os.ReadFile(full)
		if readErr != nil {
			return errResponder(apierr.Wrap(apierr.KindNotFound, "reading file", readErr))
		}
		return jsonOK(map[string]string{
			"content":  base64.StdEncoding.EncodeToString(content),
			"encoding": "base64",
			"filename": filename,
		})
	}

	content, err := os.ReadFile(full)
	if err != nil {
		return errResponder(apierr.Wrap(apierr.KindNotFound, "reading file", err))
	}
	if !utf8.Valid(content) {
		return jsonOK(map[string]string{
			"content":  base64.StdEncoding.EncodeToString(content),
			"encoding": "base64",
			"filename": filename,
		})
	}
	return jsonOK(map[string]string{"content": string(content), "encoding": "utf-8", "filename": filename})
}

type filesWriteRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func (s *Server) handleFilesWrite(r *http.Request) httphandler.Responder {
	root, err := s.projectRoot()
	if err != nil {
		return errResponder(err)
	}
	var req filesWriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		return errResponder(apierr.New(apierr.KindInvalidRequest, "path is required"))
	}
	if s.Policy.IsProtectedFromPush(filepath.Base(req.Path), false) {
		return errResponder(apierr.New(apierr.KindPolicyViolation, "file is protected"))
	}
	full, err := safeJoin(root, req.Path)
	if err != nil {
		return errResponder(apierr.Wrap(apierr.KindPolicyViolation, "resolving path", err))
	}
	if mkErr := os.MkdirAll(filepath.Dir(full), 0755); mkErr != nil {
		return errResponder(apierr.Wrap(apierr.KindInternal, "creating parent directories", mkErr))
	}
	if writeErr := os.WriteFile(full, []byte(req.Content), 0644); writeErr != nil {
		return errResponder(apierr.Wrap(apierr.KindInternal, "writing file", writeErr))
	}
	return jsonOK(map[string]string{"path": req.Path})
}

type filesDeleteRequest struct {
	Path string `json:"path"`
}

func (s *Server) handleFilesDelete(r *http.Request) httphandler.Responder {
	root, err := s.projectRoot()
	if err != nil {
		return errResponder(err)
	}
	var req filesDeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		return errResponder(apierr.New(apierr.KindInvalidRequest, "path is required"))
	}
	info, statErr := os.Stat(filepath.Join(root, req.Path))
	isDir := statErr == nil && info.IsDir()
	if s.Policy.IsProtectedFromPush(filepath.Base(req.Path), isDir) {
		return errResponder(apierr.New(apierr.KindPolicyViolation, "file is protected"))
	}
	full, err := safeJoin(root, req.Path)
	if err != nil {
		return errResponder(apierr.Wrap(apierr.KindPolicyViolation, "resolving path", err))
	}
	if rmErr := os.RemoveAll(full); rmErr != nil {
		return errResponder(apierr.Wrap(apierr.KindInternal, "deleting path", rmErr))
	}
	return jsonOK(map[string]string{"path": req.Path})
}

// safeJoin resolves rel against root and rejects any path that escapes
// it, the way the policy classifier's callers must before touching disk.
func safeJoin(root, rel string) (string, error) {
	full := filepath.Join(root, rel)
	if full != root && !strings.HasPrefix(full, root+string(filepath.Separator)) {
		return "", apierr.New(apierr.KindPolicyViolation, "path escapes project root")
	}
	return full, nil
}

// --- C6: scripts -----------------------------------------------------------

func (s *Server) handleScriptsList(r *http.Request) httphandler.Responder {
	list, err := s.Runner.List()
	if err != nil {
		return errResponder(apierr.Wrap(apierr.KindInternal, "listing scripts", err))
	}
	return jsonOK(map[string]interface{}{"scripts": list})
}

type scriptsRunRequest struct {
	Paths []string `json:"paths"`
}

func (s *Server) handleScriptsRun(r *http.Request) httphandler.Responder {
	root, err := s.projectRoot()
	if err != nil {
		return errResponder(err)
	}
	var req scriptsRunRequest
	if decErr := json.NewDecoder(r.Body).Decode(&req); decErr != nil || len(req.Paths) == 0 {
		return errResponder(apierr.New(apierr.KindInvalidRequest, "paths is required"))
	}
	abs := make([]string, len(req.Paths))
	for i, p := range req.Paths {
		full, joinErr := safeJoin(filepath.Join(root, "app", "scripts"), p)
		if joinErr != nil {
			return errResponder(joinErr)
		}
		abs[i] = full
	}
	records := s.Runner.Run(r.Context(), abs)
	return jsonOK(map[string]interface{}{"records": records})
}

type pipInstallRequest struct {
	Package string `json:"package"`
}

func (s *Server) handlePipInstall(r *http.Request) httphandler.Responder {
	var req pipInstallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Package == "" {
		return errResponder(apierr.New(apierr.KindInvalidRequest, "package is required"))
	}
	result := s.Runner.Install(r.Context(), req.Package)
	return jsonOK(result)
}

// --- metadata ---------------------------------------------------------------

func (s *Server) handleMetadataGenerate(r *http.Request) httphandler.Responder {
	root, err := s.projectRoot()
	if err != nil {
		return errResponder(err)
	}
	if genErr := metadata.GenerateAll(root); genErr != nil {
		return errResponder(apierr.Wrap(apierr.KindInternal, "generating metadata", genErr))
	}
	return jsonOK(map[string]string{"status": "generated"})
}

// --- dataframe preview -------------------------------------------------------

func (s *Server) handleDataframeRows(r *http.Request) httphandler.Responder {
	root, err := s.projectRoot()
	if err != nil {
		return errResponder(err)
	}
	rel := r.URL.Query().Get("path")
	if rel == "" {
		return errResponder(apierr.New(apierr.KindInvalidRequest, "path query parameter is required"))
	}
	full, joinErr := safeJoin(root, rel)
	if joinErr != nil {
		return errResponder(joinErr)
	}
	if !strings.EqualFold(filepath.Ext(full), ".csv") {
		return jsonOK(map[string]interface{}{"type": "unsupported"})
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, convErr := strconv.Atoi(v); convErr == nil && n > 0 {
			limit = n
		}
	}

	header, rows, readErr := readCSVRows(full, limit)
	if readErr != nil {
		return errResponder(apierr.Wrap(apierr.KindNotFound, "reading csv", readErr))
	}
	return jsonOK(map[string]interface{}{"type": "tabular", "columns": header, "rows": rows})
}

type dataframeQueryRequest struct {
	Path   string `json:"path"`
	Column string `json:"column"`
	Equals string `json:"equals"`
	Limit  int    `json:"limit"`
}

func (s *Server) handleDataframeQuery(r *http.Request) httphandler.Responder {
	root, err := s.projectRoot()
	if err != nil {
		return errResponder(err)
	}
	var req dataframeQueryRequest
	if decErr := json.NewDecoder(r.Body).Decode(&req); decErr != nil || req.Path == "" {
		return errResponder(apierr.New(apierr.KindInvalidRequest, "path is required"))
	}
	full, joinErr := safeJoin(root, req.Path)
	if joinErr != nil {
		return errResponder(joinErr)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 100
	}

	header, rows, readErr := readCSVRows(full, 0)
	if readErr != nil {
		return errResponder(apierr.Wrap(apierr.KindNotFound, "reading csv", readErr))
	}

	colIdx := -1
	for i, name := range header {
		if name == req.Column {
			colIdx = i
			break
		}
	}
	if req.Column != "" && colIdx == -1 {
		return errResponder(apierr.New(apierr.KindInvalidRequest, "unknown column "+req.Column))
	}

	matched := make([][]string, 0, limit)
	for _, row := range rows {
		if colIdx >= 0 && (colIdx >= len(row) || row[colIdx] != req.Equals) {
			continue
		}
		matched = append(matched, row)
		if len(matched) >= limit {
			break
		}
	}
	return jsonOK(map[string]interface{}{"columns": header, "rows": matched})
}

// --- C4/C5: remote sync ------------------------------------------------------

func (s *Server) handleSyncPull(r *http.Request) httphandler.Responder {
	root, err := s.projectRoot()
	if err != nil {
		return errResponder(err)
	}
	remote, err := s.remoteURL()
	if err != nil {
		return errResponder(err)
	}
	result, pullErr := s.Sync.Pull(r.Context(), root, s.Vector, remote)
	if pullErr != nil {
		return errResponder(apierr.AsAPIError(pullErr))
	}
	return jsonOK(result)
}

func (s *Server) handleSyncPush(r *http.Request) httphandler.Responder {
	root, err := s.projectRoot()
	if err != nil {
		return errResponder(err)
	}
	remote, err := s.remoteURL()
	if err != nil {
		return errResponder(err)
	}
	result, pushErr := s.Sync.Push(r.Context(), root, remote)
	if pushErr != nil {
		return errResponder(apierr.AsAPIError(pushErr))
	}
	return jsonOK(result)
}

func (s *Server) handleSyncFull(r *http.Request) httphandler.Responder {
	root, err := s.projectRoot()
	if err != nil {
		return errResponder(err)
	}
	remote, err := s.remoteURL()
	if err != nil {
		return errResponder(err)
	}
	result, syncErr := s.Sync.FullSync(r.Context(), root, s.Vector, remote)
	if syncErr != nil {
		return errResponder(apierr.AsAPIError(syncErr))
	}
	return jsonOK(result)
}

// --- GitHub device-flow pass-through -----------------------------------------
//
// Upstream URLs are taken verbatim from the reference bridge: the bridge
// is a thin, credential-bearing pass-through and never terminates the
// flow itself.

const (
	githubDeviceCodeURL  = "https://github.com/login/device/code"
	githubAccessTokenURL = "https://github.com/login/oauth/access_token"
)

func (s *Server) handleGithubDeviceCode(r *http.Request) httphandler.Responder {
	return s.proxyGithub(r, githubDeviceCodeURL)
}

func (s *Server) handleGithubToken(r *http.Request) httphandler.Responder {
	return s.proxyGithub(r, githubAccessTokenURL)
}

func (s *Server) proxyGithub(r *http.Request, upstream string) httphandler.Responder {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return errResponder(apierr.Wrap(apierr.KindInvalidRequest, "reading request body", err))
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	upstreamReq, err := http.NewRequestWithContext(ctx, http.MethodPost, upstream, strings.NewReader(string(body)))
	if err != nil {
		return errResponder(apierr.Wrap(apierr.KindInternal, "building upstream request", err))
	}
	upstreamReq.Header.Set("Content-Type", "application/json")
	upstreamReq.Header.Set("Accept", "application/json")

	resp, err := http.DefaultClient.Do(upstreamReq)
	if err != nil {
		return errResponder(apierr.Wrap(apierr.KindRemoteUnreachable, "contacting github", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errResponder(apierr.Wrap(apierr.KindRemoteError, "reading github response", err))
	}

	return rawJSONResponder{status: resp.StatusCode, body: respBody}
}

type rawJSONResponder struct {
	status int
	body   []byte
}

func (j rawJSONResponder) Respond(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(j.status)
	w.Write(j.body)
}
