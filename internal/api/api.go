// Package api exposes the command surface over HTTP: a JSON commands
// endpoint, the notification websocket, health and metrics.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/fakecrypto/game-engine/internal/command"
	"github.com/fakecrypto/game-engine/internal/metrics"
)

// Commander runs chat commands.
type Commander interface {
	Handle(ctx context.Context, req command.Request) command.Result
}

// Streamer serves notification websockets. ServeWS binds the stream to
// one user; HandleWS reads the user from the query string.
type Streamer interface {
	ServeWS(w http.ResponseWriter, r *http.Request, userID int64)
	HandleWS(w http.ResponseWriter, r *http.Request)
}

// Options wires a Server.
type Options struct {
	Commands Commander
	Stream   Streamer
	// JWTSecret enables bearer auth when non-empty.
	JWTSecret string
	Logger    *slog.Logger
}

// Server holds the HTTP handlers.
type Server struct {
	commands Commander
	stream   Streamer
	auth     *Authenticator // nil when auth is off
	validate *validator.Validate
	log      *slog.Logger
}

func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Server{
		commands: opts.Commands,
		stream:   opts.Stream,
		validate: newValidator(),
		log:      opts.Logger,
	}
	if opts.JWTSecret != "" {
		s.auth = NewAuthenticator(opts.JWTSecret)
	}
	return s
}

// Router builds the chi router with the standard middleware stack.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"game-engine"}`))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if s.auth != nil {
			r.Use(s.auth.Middleware)
		}
		r.With(middleware.Timeout(30*time.Second)).Post("/commands", s.HandleCommand)
		r.Get("/ws", s.HandleWS)
	})
	return r
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CommandRequest is the JSON body for POST /api/v1/commands. UserID is
// ignored when the request carries a token.
type CommandRequest struct {
	UserID int64  `json:"user_id" validate:"gte=0"`
	ChatID int64  `json:"chat_id"`
	Text   string `json:"text" validate:"required,max=512"`
}

// maxCommandBody caps the request body; text is limited to 512 runes
// (2 KiB of UTF-8) plus a few small fields.
const maxCommandBody = 4 << 10

// HandleCommand handles POST /api/v1/commands.
func (s *Server) HandleCommand(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxCommandBody)

	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.log.Debug("bad command body", "err", err)
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		writeError(w, validationMessage(err), http.StatusBadRequest)
		return
	}

	userID := req.UserID
	if id, ok := UserIDFromContext(r.Context()); ok {
		userID = id
	}
	if err := s.validate.Var(userID, "required,gt=0"); err != nil {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	chatID := req.ChatID
	if chatID == 0 {
		chatID = userID
	}

	res := s.commands.Handle(r.Context(), command.Request{UserID: userID, ChatID: chatID, Text: req.Text})
	writeJSON(w, http.StatusOK, res)
}

// HandleWS handles GET /api/v1/ws. With auth on, the stream is bound to
// the token's user; otherwise ?user_id= selects it and omitting it
// subscribes to every event.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	if id, ok := UserIDFromContext(r.Context()); ok {
		s.stream.ServeWS(w, r, id)
		return
	}
	s.stream.HandleWS(w, r)
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validationMessage(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return "invalid request"
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "max":
		return fe.Field() + " is too long"
	default:
		return fe.Field() + " is invalid"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
