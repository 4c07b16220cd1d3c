package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "chatapp/docs"
	"chatapp/internal/observability"
	"chatapp/internal/service"
)

// Deps is everything the router serves.
type Deps struct {
	Log         *slog.Logger
	CORSOrigins []string
	Auth        *service.AuthService
	Users       *service.UserService
	Messages    *service.MessageService
	Receipts    *service.ReceiptService
	Live        http.Handler
	Sessions    interface{ Online() []int64 }
}

// NewRouter constructs the main HTTP router and wires routes and middleware.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(observability.HTTPMetrics)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{"status": "healthy"}
		if d.Sessions != nil {
			body["liveSessions"] = len(d.Sessions.Online())
		}
		writeJSON(w, http.StatusOK, body)
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/docs/*", httpSwagger.Handler(
		httpSwagger.URL("/docs/doc.json"),
	))

	// The live endpoint is long-lived, so it sits outside the timeout group.
	if d.Live != nil {
		r.Get("/ws", d.Live.ServeHTTP)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Post("/signup", handleSignup(d.Auth, d.Log))
		r.Post("/login", handleLogin(d.Auth, d.Log))

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(d.Auth, d.Log))

			r.Get("/users", handleListUsers(d.Users, d.Log))
			r.Get("/profile", handleGetProfile())
			r.Put("/profile", handleUpdateProfile(d.Users, d.Log))
			r.Delete("/account", handleDeleteAccount(d.Users, d.Log))

			r.Route("/messages", func(r chi.Router) {
				r.Post("/", handleSendMessage(d.Messages, d.Log))
				r.Put("/mark-read/{senderId}", handleMarkRead(d.Receipts, d.Log))
				r.Get("/{peerId}", handleHistory(d.Messages, d.Log))
			})
		})
	})

	return r
}

// writeJSON is a small helper to send JSON responses.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}
