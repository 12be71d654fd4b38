// Package githubtest runs an in-memory GitHub REST API covering the endpoints
// the github platform backend uses:
//   - GET    /user
//   - GET    /repos/{owner}/{repo}/issues/comments (newest first)
//   - GET    /repos/{owner}/{repo}/issues/comments/{id}
//   - GET    /repos/{owner}/{repo}/issues/{number}/comments (honours since)
//   - POST   /repos/{owner}/{repo}/issues/{number}/comments -> 201
//   - GET    /notifications (threads not yet done)
//   - PATCH  /notifications/threads/{id} -> 205
//   - DELETE /notifications/threads/{id} -> 204
package githubtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
)

// Comment is a stored issue comment.
type Comment struct {
	ID        int64
	Repo      string // owner/repo
	Issue     int
	Author    string
	Body      string
	CreatedAt time.Time
}

// Thread is a notification thread. LatestCommentID of zero means the thread
// has no comment to point at.
type Thread struct {
	ID              string
	Repo            string
	Issue           int
	Title           string
	LatestCommentID int64
}

// Server is a fake GitHub API. Fields are safe to read after requests finish.
type Server struct {
	*httptest.Server

	Login string
	Token string

	mu       sync.Mutex
	nextID   int64
	comments []Comment
	threads  []Thread
	done     map[string]bool
	read     map[string]bool
	failures map[string]int
	drops    map[string]int

	// Requests lists "METHOD path" for every request received.
	Requests []string
}

// NewServer starts a server authenticating token as login. Close it when done.
func NewServer(login, token string) *Server {
	s := &Server{
		Login:    login,
		Token:    token,
		nextID:   1000,
		done:     make(map[string]bool),
		read:     make(map[string]bool),
		failures: make(map[string]int),
		drops:    make(map[string]int),
	}

	r := mux.NewRouter()
	r.Use(s.record, s.authenticate)
	r.HandleFunc("/user", s.handleUser).Methods(http.MethodGet)
	r.HandleFunc("/repos/{owner}/{repo}/issues/comments", s.handleRepoComments).Methods(http.MethodGet)
	r.HandleFunc("/repos/{owner}/{repo}/issues/comments/{id:[0-9]+}", s.handleComment).Methods(http.MethodGet)
	r.HandleFunc("/repos/{owner}/{repo}/issues/{number:[0-9]+}/comments", s.handleIssueComments).Methods(http.MethodGet)
	r.HandleFunc("/repos/{owner}/{repo}/issues/{number:[0-9]+}/comments", s.handleCreateComment).Methods(http.MethodPost)
	r.HandleFunc("/notifications", s.handleNotifications).Methods(http.MethodGet)
	r.HandleFunc("/notifications/threads/{id}", s.handleMarkRead).Methods(http.MethodPatch)
	r.HandleFunc("/notifications/threads/{id}", s.handleMarkDone).Methods(http.MethodDelete)

	s.Server = httptest.NewServer(r)
	return s
}

// AddComment stores c and returns its id.
func (s *Server) AddComment(c Comment) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == 0 {
		s.nextID++
		c.ID = s.nextID
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}
	s.comments = append(s.comments, c)
	return c.ID
}

// AddThread queues a notification.
func (s *Server) AddThread(t Thread) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads = append(s.threads, t)
}

// FailNext makes the next n requests to path answer 503.
func (s *Server) FailNext(path string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[path] = n
}

// DropNext makes the next n requests to path take effect but lose their
// response: the connection is closed before anything is written back.
func (s *Server) DropNext(path string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drops[path] = n
}

// Comments returns the comments on an issue in creation order.
func (s *Server) Comments(repo string, issue int) []Comment {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Comment
	for _, c := range s.comments {
		if c.Repo == repo && c.Issue == issue {
			out = append(out, c)
		}
	}
	return out
}

// Done reports whether a thread was marked done.
func (s *Server) Done(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done[id]
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.Requests = append(s.Requests, r.Method+" "+r.URL.Path)
		n := s.failures[r.URL.Path]
		if n > 0 {
			s.failures[r.URL.Path] = n - 1
		}
		drop := s.drops[r.URL.Path]
		if drop > 0 {
			s.drops[r.URL.Path] = drop - 1
		}
		s.mu.Unlock()

		switch {
		case n > 0:
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"message": "Service Unavailable"})
		case drop > 0:
			next.ServeHTTP(httptest.NewRecorder(), r)
			hangUp(w)
		default:
			next.ServeHTTP(w, r)
		}
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+s.Token {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Bad credentials"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"login": s.Login, "id": 1})
}

func (s *Server) handleRepoComments(w http.ResponseWriter, r *http.Request) {
	repo := repoName(r)

	s.mu.Lock()
	var out []Comment
	for _, c := range s.comments {
		if c.Repo == repo {
			out = append(out, c)
		}
	}
	s.mu.Unlock()

	if r.URL.Query().Get("direction") == "desc" {
		sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	}
	if n, err := strconv.Atoi(r.URL.Query().Get("per_page")); err == nil && n > 0 && len(out) > n {
		out = out[:n]
	}
	writeJSON(w, http.StatusOK, s.render(out))
}

func (s *Server) handleIssueComments(w http.ResponseWriter, r *http.Request) {
	repo := repoName(r)
	number, _ := strconv.Atoi(mux.Vars(r)["number"])

	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": "bad since"})
			return
		}
		since = parsed
	}

	var out []Comment
	for _, c := range s.Comments(repo, number) {
		if !c.CreatedAt.Before(since) {
			out = append(out, c)
		}
	}
	writeJSON(w, http.StatusOK, s.render(out))
}

func (s *Server) handleComment(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.comments {
		if c.ID == id {
			writeJSON(w, http.StatusOK, s.renderOne(c))
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
}

func (s *Server) handleCreateComment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Body string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}
	number, _ := strconv.Atoi(mux.Vars(r)["number"])

	id := s.AddComment(Comment{Repo: repoName(r), Issue: number, Author: s.Login, Body: req.Body})

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.comments {
		if c.ID == id {
			writeJSON(w, http.StatusCreated, s.renderOne(c))
			return
		}
	}
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]map[string]any, 0, len(s.threads))
	for _, t := range s.threads {
		if s.done[t.ID] || s.read[t.ID] {
			continue
		}
		subject := map[string]any{
			"title": t.Title,
			"url":   fmt.Sprintf("%s/repos/%s/issues/%d", s.URL, t.Repo, t.Issue),
			"type":  "Issue",
		}
		if t.LatestCommentID != 0 {
			subject["latest_comment_url"] = fmt.Sprintf("%s/repos/%s/issues/comments/%d", s.URL, t.Repo, t.LatestCommentID)
		}
		out = append(out, map[string]any{
			"id":      t.ID,
			"reason":  "mention",
			"unread":  true,
			"subject": subject,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.read[mux.Vars(r)["id"]] = true
	s.mu.Unlock()
	w.WriteHeader(http.StatusResetContent)
}

func (s *Server) handleMarkDone(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.done[mux.Vars(r)["id"]] = true
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) render(comments []Comment) []map[string]any {
	out := make([]map[string]any, 0, len(comments))
	for _, c := range comments {
		out = append(out, s.renderOne(c))
	}
	return out
}

func (s *Server) renderOne(c Comment) map[string]any {
	return map[string]any{
		"id":         c.ID,
		"body":       c.Body,
		"user":       map[string]any{"login": c.Author},
		"html_url":   fmt.Sprintf("https://github.com/%s/issues/%d#issuecomment-%d", c.Repo, c.Issue, c.ID),
		"issue_url":  fmt.Sprintf("%s/repos/%s/issues/%d", s.URL, c.Repo, c.Issue),
		"created_at": c.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func hangUp(w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		panic("githubtest: response writer does not support hijacking")
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		panic(err)
	}
	_ = conn.Close()
}

func repoName(r *http.Request) string {
	vars := mux.Vars(r)
	return vars["owner"] + "/" + vars["repo"]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
