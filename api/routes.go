package api

import (
	"context"
	"net/http"

	"github.com/garnizeh/mar/internal/app"
	"github.com/garnizeh/mar/internal/completion"
	"github.com/garnizeh/mar/internal/config"
	"github.com/garnizeh/mar/internal/quiz"
	"github.com/garnizeh/mar/internal/ratelimit"
	"github.com/garnizeh/mar/internal/schema"
	"github.com/garnizeh/mar/pkg/repository"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/mux"
)

// Deps are the services behind the routes.
type Deps struct {
	Repo         *repository.Repository
	Ping         func(ctx context.Context) error
	Quiz         *quiz.Service
	Validator    *quiz.Validator
	Orchestrator *completion.Orchestrator
	Webhooks     WebhookService
	Schemas      *schema.Loader
	Limiter      *ratelimit.Limiter
}

// SetupRoutes builds the router for a wired application.
func SetupRoutes(a *app.App, version, buildTime string) *mux.Router {
	return NewRouter(a.Config, version, buildTime, Deps{
		Repo:         a.Repo,
		Ping:         a.DB.Ping,
		Quiz:         a.Quiz,
		Validator:    a.Validator,
		Orchestrator: a.Orchestrator,
		Webhooks:     a.Delivery,
		Schemas:      a.Schemas,
		Limiter:      a.Limiter,
	})
}

func NewRouter(cfg *config.Config, version, buildTime string, d Deps) *mux.Router {
	r := mux.NewRouter()

	// Middleware chain
	r.Use(middleware.RequestID)
	if cfg.TrustedProxy {
		// forwarded headers decide the rate-limit key, so only honor them
		// when a proxy in front owns them
		r.Use(middleware.RealIP)
	}
	r.Use(LoggingMiddleware)
	r.Use(CORSMiddleware(cfg.CORSOrigins))
	r.Use(RecoveryMiddleware)

	// Create handlers
	systemHandler := NewSystemHandler(d.Ping)
	authHandler := NewAuthHandler(d.Repo.Users, d.Repo.Profiles, cfg.JWTSecret, cfg.TokenDuration)
	quizHandler := NewQuizHandler(d.Quiz, d.Validator, d.Orchestrator, d.Repo.Submissions, d.Repo.Answers)
	adminHandler := NewAdminHandler(d.Repo, d.Webhooks, cfg.Workers.MaxAttempts)
	functionsHandler := NewFunctionsHandler(d.Repo, d.Webhooks, d.Orchestrator, d.Schemas, cfg.MaxPayloadSize)

	// Preflight requests never match a method-bound route; give the CORS
	// middleware a route to run on.
	r.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	// Open endpoints
	r.HandleFunc("/version", systemHandler.VersionHandler(version, buildTime)).Methods("GET")
	r.HandleFunc("/health", systemHandler.HealthHandler).Methods("GET")
	r.HandleFunc("/v1/auth/signup", authHandler.Signup).Methods("POST")
	r.HandleFunc("/v1/auth/signin", authHandler.Signin).Methods("POST")

	// Function surface: admin bearer, JSON errors. quiz-webhook is rate
	// limited per client before the token is checked.
	functions := FunctionAuthMiddleware(cfg.JWTSecret)(functionsHandler)
	webhookFn := functions
	if d.Limiter != nil {
		webhookFn = d.Limiter.Middleware(FnQuizWebhook+":", nil)(functions)
	}
	r.Handle("/functions/v1/{name:"+FnQuizWebhook+"}", webhookFn).Methods("POST")
	r.Handle("/functions/v1/{name}", functions).Methods("POST")

	// API v1 Protected routes
	apiV1 := r.PathPrefix("/v1").Subrouter()
	apiV1.Use(JWTAuthMiddlewareWithSecret(cfg.JWTSecret))

	// Auth endpoints
	authV1 := apiV1.PathPrefix("/auth").Subrouter()
	authV1.HandleFunc("/signout", authHandler.Signout).Methods("POST")

	// Questionnaire endpoints
	quizV1 := apiV1.PathPrefix("/quiz").Subrouter()
	quizV1.HandleFunc("/modules", quizHandler.ListModules).Methods("GET")
	quizV1.HandleFunc("/submission", quizHandler.CurrentSubmission).Methods("GET")
	quizV1.HandleFunc("/validation", quizHandler.Validation).Methods("GET")
	quizV1.HandleFunc("/submissions/{id}/answers", quizHandler.SaveAnswer).Methods("PUT")
	quizV1.HandleFunc("/submissions/{id}/advance", quizHandler.AdvanceModule).Methods("POST")
	quizV1.HandleFunc("/submissions/{id}/complete", quizHandler.Complete).Methods("POST")
	quizV1.HandleFunc("/submissions/{id}/webhook/retry", quizHandler.RetryWebhook).Methods("POST")

	// Admin endpoints
	adminV1 := apiV1.PathPrefix("/admin").Subrouter()
	adminV1.Use(RequireAdmin)
	adminV1.HandleFunc("/config", adminHandler.ListConfig).Methods("GET")
	adminV1.HandleFunc("/config/{key}", adminHandler.GetConfig).Methods("GET")
	adminV1.HandleFunc("/config/{key}", adminHandler.UpdateConfig).Methods("PUT")
	adminV1.HandleFunc("/audit", adminHandler.ListAudit).Methods("GET")
	adminV1.HandleFunc("/webhook/test", adminHandler.TestWebhook).Methods("POST")
	adminV1.HandleFunc("/webhook/redeliver", adminHandler.Redeliver).Methods("POST")

	return r
}
