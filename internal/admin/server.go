package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/karwadev/bannerbot/internal/models"
	"github.com/karwadev/bannerbot/internal/service"
)

// StatsSource is the ledger aggregate view exposed to operators.
type StatsSource interface {
	Stats(ctx context.Context, now time.Time) (*models.UsageStats, error)
}

// Server is the operator-facing JSON API: allow-list management, usage
// statistics and broadcast messages. It mirrors the in-chat /manage command
// for operators who prefer curl over Telegram.
type Server struct {
	addr     string
	username string
	password string
	log      *slog.Logger
	users    *service.UserService
	access   *service.AccessService
	stats    StatsSource
	bot      *tgbotapi.BotAPI
	router   *chi.Mux
}

func NewServer(addr, username, password string, log *slog.Logger, users *service.UserService, access *service.AccessService, stats StatsSource, bot *tgbotapi.BotAPI) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		addr:     addr,
		username: username,
		password: password,
		log:      log,
		users:    users,
		access:   access,
		stats:    stats,
		bot:      bot,
		router:   r,
	}
	r.Group(func(protected chi.Router) {
		protected.Use(s.basicAuthMiddleware())
		protected.Get("/stats", s.handleStats)
		protected.Post("/broadcast", s.handleBroadcast)
		protected.Route("/users", func(r chi.Router) {
			r.Get("/", s.handleListUsers)
			r.Post("/", s.handleAllowUser)
			r.Delete("/{id}", s.handleRevokeUser)
		})
	})
	return s
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("admin shutdown error", "err", err)
		}
	}()

	s.log.Info("admin api listening", "addr", s.addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("admin listen: %w", err)
	}
	return nil
}

type userView struct {
	UserID       int64  `json:"user_id"`
	Username     string `json:"username,omitempty"`
	IsOwner      bool   `json:"is_owner"`
	Authorized   bool   `json:"authorized"`
	AuthorizedAt string `json:"authorized_at,omitempty"`
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.users.List(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	views := make([]userView, 0, len(users))
	for _, u := range users {
		v := userView{
			UserID:     u.ID,
			Username:   u.Username,
			IsOwner:    u.IsOwner,
			Authorized: u.Authorized,
		}
		if u.AuthorizedAt != nil {
			v.AuthorizedAt = u.AuthorizedAt.UTC().Format(time.RFC3339)
		}
		views = append(views, v)
	}
	s.writeJSON(w, http.StatusOK, views)
}

type allowRequest struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}

func (s *Server) handleAllowUser(w http.ResponseWriter, r *http.Request) {
	var req allowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.UserID == 0 {
		s.badRequest(w, errors.New("user_id required"))
		return
	}
	if err := s.access.Allow(r.Context(), req.UserID, strings.TrimPrefix(req.Username, "@"), 0, time.Now().UTC()); err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"user_id": req.UserID, "authorized": true})
}

func (s *Server) handleRevokeUser(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.badRequest(w, errors.New("invalid user id"))
		return
	}
	if err := s.access.Revoke(r.Context(), id); err != nil {
		if errors.Is(err, service.ErrCannotRevokeOwner) {
			http.Error(w, "owner cannot be revoked", http.StatusForbidden)
			return
		}
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"user_id": id, "authorized": false})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.stats.Stats(r.Context(), time.Now().UTC())
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

type broadcastRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		http.Error(w, "message required", http.StatusBadRequest)
		return
	}

	ids, err := s.users.ListIDs(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}

	count := 0
	for _, id := range ids {
		msg := tgbotapi.NewMessage(id, req.Message)
		if _, err := s.bot.Send(msg); err != nil {
			s.log.Error("send broadcast", "user", id, "err", err)
			continue
		}
		count++
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"sent": count, "total": len(ids)})
}

func (s *Server) basicAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || user != s.username || pass != s.password {
				w.Header().Set("WWW-Authenticate", `Basic realm="bannerbot"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) badRequest(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), http.StatusBadRequest)
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.log.Error("admin handler error", "err", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func parseID(value string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(value), 10, 64)
}
