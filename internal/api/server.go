package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warp-strategies/factory/internal/platform/auth"
	"github.com/warp-strategies/factory/internal/platform/metrics"
)

// NewRouter wires C10's HTTP surface, following the teacher's
// logger/recoverer/request-id/CORS middleware stack
// (AntoineToussaint-timeoff's api.NewRouter) with an added JWT-auth layer
// and a Prometheus /metrics endpoint (teacher's own cmd/rgsd wiring).
func NewRouter(h *Handler, verifier *auth.JWTVerifier, m *metrics.Metrics) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
	}))

	SystemHandler{}.Register(r)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return metrics.HTTPMiddleware(m, next)
		})
		r.Use(func(next http.Handler) http.Handler {
			return auth.HTTPJWTMiddlewareWithSkips(verifier, next, nil)
		})

		r.Route("/account", func(r chi.Router) {
			r.Post("/deposit", h.DepositICP)
			r.Post("/withdraw", h.WithdrawUserICP)
			r.Get("/balance", h.GetBalance)
			r.Get("/info", h.GetAccountInfo)
			r.Get("/history", h.GetTransactionHistory)
		})

		r.Post("/strategies/{kind}", h.RequestStrategy)

		r.Route("/deployments", func(r chi.Router) {
			r.Get("/mine", h.GetMyDeploymentRecords)
			r.Get("/{id}", h.GetDeployment)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Get("/deployments", h.GetDeploymentRecords)
			r.Post("/deployments/{id}/force", h.ForceExecuteDeployment)
			r.Post("/fee", h.SetDeploymentFee)
			r.Get("/fee", h.GetDeploymentFee)
			r.Post("/admins/{id}", h.AddAdmin)
			r.Delete("/admins/{id}", h.RemoveAdmin)
			r.Get("/admins", h.ListAdmins)
			r.Post("/images", h.InstallStrategyWasm)
			r.Post("/withdraw", h.WithdrawICP)
			r.Post("/adjust", h.AdjustBalance)
			r.Post("/reset-timers", h.ResetSystemTimers)
		})
	})

	return r
}
