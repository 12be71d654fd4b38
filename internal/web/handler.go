// Package web serves the read-only status pages: an HTML overview, a JSON
// snapshot, a health check and the Prometheus metrics.
package web

import (
	"embed"
	"encoding/json"
	"html/template"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/cexll/pollbot/internal/metrics"
	"github.com/cexll/pollbot/internal/scheduler"
	"github.com/cexll/pollbot/internal/state"
)

//go:embed templates/*
var templatesFS embed.FS

// StoreView is the read side of the state store.
type StoreView interface {
	Snapshot() state.Document
}

// LoopView is the read side of the scheduler.
type LoopView interface {
	State() scheduler.State
	LastCycle() (scheduler.CycleSummary, bool)
	Cycles() int
}

// Status is the JSON body of /status. Credentials are never included.
type Status struct {
	Identity    string                  `json:"identity"`
	Platform    string                  `json:"platform"`
	Owner       string                  `json:"owner"`
	State       string                  `json:"state"`
	WatchList   []string                `json:"watch_list"`
	OptOutCount int                     `json:"opt_out_count"`
	Cycles      int                     `json:"cycles"`
	LastCycle   *scheduler.CycleSummary `json:"last_cycle,omitempty"`
	Uptime      string                  `json:"uptime"`
}

// Handler handles status requests
type Handler struct {
	store     StoreView
	loop      LoopView
	identity  string
	platform  string
	started   time.Time
	templates *template.Template
}

// NewHandler creates a new status handler
func NewHandler(store StoreView, loop LoopView, identity, platform string) (*Handler, error) {
	tmpl, err := template.New("").Funcs(template.FuncMap{
		"stateColor": stateColor,
	}).ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, err
	}

	return &Handler{
		store:     store,
		loop:      loop,
		identity:  identity,
		platform:  platform,
		started:   time.Now(),
		templates: tmpl,
	}, nil
}

// RegisterRoutes registers the status routes
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/", h.handleIndex).Methods("GET")
	r.HandleFunc("/health", h.handleHealth).Methods("GET")
	r.HandleFunc("/status", h.handleStatus).Methods("GET")
	r.Handle("/metrics", metrics.Handler()).Methods("GET")
}

// Router returns a router with every status route registered.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	h.RegisterRoutes(r)
	return r
}

// Status builds the current snapshot.
func (h *Handler) Status() Status {
	doc := h.store.Snapshot()

	status := Status{
		Identity:    h.identity,
		Platform:    h.platform,
		Owner:       doc.Owner,
		State:       h.loop.State().String(),
		WatchList:   doc.WatchList,
		OptOutCount: len(doc.OptOutSet),
		Cycles:      h.loop.Cycles(),
		Uptime:      time.Since(h.started).Round(time.Second).String(),
	}
	if last, ok := h.loop.LastCycle(); ok {
		status.LastCycle = &last
	}
	if status.WatchList == nil {
		status.WatchList = []string{}
	}
	return status
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.Status()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// handleIndex renders the overview page
func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.templates.ExecuteTemplate(w, "status.html", h.Status()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func stateColor(s string) string {
	switch s {
	case scheduler.Scanning.String():
		return "#0d6efd"
	case scheduler.Idle.String():
		return "#198754"
	default:
		return "#6c757d"
	}
}
