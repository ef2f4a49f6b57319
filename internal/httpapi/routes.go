package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/DoyleJ11/lobby-mapban/internal/exclusion"
	"github.com/DoyleJ11/lobby-mapban/internal/hub"
	"github.com/DoyleJ11/lobby-mapban/internal/store"
	"github.com/DoyleJ11/lobby-mapban/internal/ws"
)

type Deps struct {
	Hub     *hub.Hub
	Ledger  *exclusion.Ledger
	Archive store.Archive
	Logger  *zap.Logger

	// Gatherer backs /metrics. Nil serves the default registry.
	Gatherer prometheus.Gatherer
}

func SetupRoutes(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Archive == nil {
		d.Archive = store.Nop{}
	}
	if d.Ledger == nil {
		d.Ledger = d.Hub.Ledger()
	}
	if d.Gatherer == nil {
		d.Gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", Healthz)
	r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	r.Get("/ws", ws.Handler(d.Hub, d.Ledger, d.Logger))

	r.Route("/lobbies", func(r chi.Router) {
		r.Post("/", CreateLobby(d))
		r.Route("/{code}", func(r chi.Router) {
			r.Get("/", GetLobby(d))
			r.Delete("/", RemoveLobby(d))
			r.Post("/bans", SubmitBan(d))
			r.Post("/blocks", BlockUser(d))
			r.Get("/admission", Admission(d))
			r.Get("/results", ListResults(d))
		})
	})
	return r
}
