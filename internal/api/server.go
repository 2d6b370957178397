package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/mux"

	"github.com/tazhate/tododav/internal/clients/caldav"
	"github.com/tazhate/tododav/internal/domain"
	"github.com/tazhate/tododav/internal/service"
)

// Todos is the todo service as used by the API
type Todos interface {
	Settings() domain.Settings
	SetSettings(domain.Settings) error
	Cache() *domain.CacheState
	Busy() int64
	Visible(showCompleted, expanded bool) []domain.Todo
	Find(ref string) (domain.Todo, bool)
	Dispatch(ctx context.Context, action domain.Action) error
	Create(ctx context.Context, contents string) (domain.Todo, error)
	Refresh(ctx context.Context) error
	DiscoverCalendars(ctx context.Context) ([]caldav.Calendar, error)
}

// API Response types
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type TodoResponse struct {
	ID        string `json:"id"`
	Ref       string `json:"ref"`
	Contents  string `json:"contents"`
	Completed bool   `json:"completed"`
}

type TodoListResponse struct {
	Items     []TodoResponse `json:"items"`
	FetchedAt *string        `json:"fetched_at,omitempty"`
	Busy      int64          `json:"busy"`
}

type CalendarResponse struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	Selected bool   `json:"selected"`
}

type Server struct {
	todos    Todos
	username string
	password string
	router   *mux.Router
}

// New builds the HTTP handler. The /api routes are registered only when
// credentials are set.
func New(todos Todos, username, password string) *Server {
	s := &Server{
		todos:    todos,
		username: username,
		password: password,
		router:   mux.NewRouter(),
	}

	s.router.HandleFunc("/health", s.health).Methods(http.MethodGet)

	if username == "" || password == "" {
		log.Warn("API disabled: API_USERNAME/API_PASSWORD not set")
		return s
	}

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.basicAuth)
	api.HandleFunc("/todos", s.listTodos).Methods(http.MethodGet)
	api.HandleFunc("/todos", s.createTodo).Methods(http.MethodPost)
	api.HandleFunc("/todos/{id}/toggle", s.toggleTodo).Methods(http.MethodPost)
	api.HandleFunc("/todos/{id}", s.updateTodo).Methods(http.MethodPut)
	api.HandleFunc("/todos/{id}", s.deleteTodo).Methods(http.MethodDelete)
	api.HandleFunc("/refresh", s.refresh).Methods(http.MethodPost)
	api.HandleFunc("/calendars", s.listCalendars).Methods(http.MethodGet)
	api.HandleFunc("/calendars", s.selectCalendars).Methods(http.MethodPut)

	return s
}

// Handle mounts an extra handler, e.g. the Telegram webhook
func (s *Server) Handle(path string, h http.Handler) {
	s.router.Handle(path, h)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) basicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok || username != s.username || password != s.password {
			w.Header().Set("WWW-Authenticate", `Basic realm="tododav API"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIResponse{Success: true, Data: data})
}

func jsonError(w http.ResponseWriter, err string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIResponse{Success: false, Error: err})
}

// remoteError maps a failed remote write to a status. The cached list
// already reflects the action.
func remoteError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrNotConfigured):
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, caldav.ErrPreconditionFailed):
		jsonError(w, "todo was changed on the server, refresh and retry", http.StatusConflict)
	default:
		jsonError(w, err.Error(), http.StatusBadGateway)
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("ok"))
}

func todoToResponse(t domain.Todo) TodoResponse {
	return TodoResponse{ID: t.ID, Ref: domain.ShortRef(t.ID), Contents: t.Contents, Completed: t.Completed}
}

func (s *Server) todoList(showCompleted, expanded bool) TodoListResponse {
	items := s.todos.Visible(showCompleted, expanded)
	resp := TodoListResponse{Items: make([]TodoResponse, 0, len(items)), Busy: s.todos.Busy()}
	for _, t := range items {
		resp.Items = append(resp.Items, todoToResponse(t))
	}
	if c := s.todos.Cache(); c != nil {
		ts := c.Timestamp.Format(time.RFC3339)
		resp.FetchedAt = &ts
	}
	return resp
}

func queryBool(r *http.Request, key string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return v
}

// GET /api/todos?completed=true&all=true
func (s *Server) listTodos(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, s.todoList(queryBool(r, "completed"), queryBool(r, "all")))
}

type contentsRequest struct {
	Contents string `json:"contents"`
}

// POST /api/todos
func (s *Server) createTodo(w http.ResponseWriter, r *http.Request) {
	var req contentsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Contents) == "" {
		jsonError(w, "contents is required", http.StatusBadRequest)
		return
	}

	todo, err := s.todos.Create(r.Context(), req.Contents)
	if err != nil {
		remoteError(w, err)
		return
	}
	jsonResponse(w, http.StatusCreated, todoToResponse(todo))
}

func (s *Server) findTodo(w http.ResponseWriter, r *http.Request) (domain.Todo, bool) {
	todo, ok := s.todos.Find(mux.Vars(r)["id"])
	if !ok {
		jsonError(w, "todo not found", http.StatusNotFound)
	}
	return todo, ok
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, action domain.Action) {
	if err := s.todos.Dispatch(r.Context(), action); err != nil {
		log.Warn("api action failed", "kind", action.Kind, "id", action.ID, "err", err)
		remoteError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, s.todoList(false, true))
}

// POST /api/todos/{id}/toggle
func (s *Server) toggleTodo(w http.ResponseWriter, r *http.Request) {
	todo, ok := s.findTodo(w, r)
	if !ok {
		return
	}
	s.dispatch(w, r, domain.ToggleTodo(todo.ID))
}

// PUT /api/todos/{id}
func (s *Server) updateTodo(w http.ResponseWriter, r *http.Request) {
	var req contentsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	todo, ok := s.findTodo(w, r)
	if !ok {
		return
	}
	s.dispatch(w, r, domain.UpdateTodo(todo.ID, strings.TrimSpace(req.Contents)))
}

// DELETE /api/todos/{id}
func (s *Server) deleteTodo(w http.ResponseWriter, r *http.Request) {
	todo, ok := s.findTodo(w, r)
	if !ok {
		return
	}
	s.dispatch(w, r, domain.RemoveTodo(todo.ID))
}

// POST /api/refresh
func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	if err := s.todos.Refresh(r.Context()); err != nil {
		remoteError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, s.todoList(false, true))
}

// GET /api/calendars
func (s *Server) listCalendars(w http.ResponseWriter, r *http.Request) {
	calendars, err := s.todos.DiscoverCalendars(r.Context())
	if err != nil {
		remoteError(w, err)
		return
	}

	selected := make(map[string]bool)
	for _, c := range s.todos.Settings().Calendars {
		selected[strings.ToLower(c.DisplayName)] = true
	}

	resp := make([]CalendarResponse, 0, len(calendars))
	for _, c := range calendars {
		resp = append(resp, CalendarResponse{
			Name:     c.DisplayName,
			URL:      c.URL,
			Selected: selected[strings.ToLower(c.DisplayName)],
		})
	}
	jsonResponse(w, http.StatusOK, resp)
}

// PUT /api/calendars {"names": [...]}
func (s *Server) selectCalendars(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Names []string `json:"names"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	settings := s.todos.Settings()
	settings.Calendars = nil
	for _, name := range req.Names {
		if name = strings.TrimSpace(name); name != "" {
			settings.Calendars = append(settings.Calendars, domain.Calendar{DisplayName: name})
		}
	}
	if err := s.todos.SetSettings(settings); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, http.StatusOK, settings.Calendars)
}
