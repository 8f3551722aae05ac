// Package api is the HTTP surface of the session: state reads, actions and
// the snapshot stream.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/walletd/walletd/internal/config"
	"github.com/walletd/walletd/internal/metrics"
	"github.com/walletd/walletd/internal/session"
	"github.com/walletd/walletd/internal/ws"
)

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	store   *session.Store
	stream  *ws.Broadcaster
	privacy *session.PrivacyFilter
	cfg     config.ServerConfig
	log     logrus.FieldLogger
}

func NewServer(store *session.Store, stream *ws.Broadcaster, privacy *session.PrivacyFilter, cfg config.ServerConfig, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{
		store:   store,
		stream:  stream,
		privacy: privacy,
		cfg:     cfg,
		log:     log.WithField("component", "api"),
	}
}

// Router builds the chi router with all routes and middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(Logger(s.log))
	r.Use(Recovery(s.log))
	r.Use(metrics.InstrumentHandler)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(TokenAuth(s.cfg.AuthToken))

		if s.stream != nil {
			r.Handle("/ws", s.stream.Handler(originChecker(s.cfg.AllowedOrigins)))
		}

		r.Route("/api", func(r chi.Router) {
			if s.cfg.RateLimit > 0 {
				r.Use(NewRateLimiter(s.cfg.RateLimit, s.cfg.RateBurst).Handler)
			}

			r.Get("/state", s.handleState)
			r.Post("/setup", s.handleSetup)
			r.Post("/wallet/delete", s.handleDeleteWallet)
			r.Post("/sync", s.handleSync)
			r.Post("/backed-up", s.handleBackedUp)
			r.Post("/beta-warned", s.handleBetaWarned)
			r.Get("/tags", s.handleTags)
			r.Post("/subscription/check", s.handleCheckSubscription)
			r.Get("/price/{currency}", s.handlePrice)
			r.Put("/fiat", s.handleSaveFiat)
			r.Put("/npub", s.handleSavePublicID)
			r.Put("/invoice-display", s.handleInvoiceDisplay)
			r.Post("/incoming", s.handleIncoming)
			r.Delete("/incoming", s.handleClearScan)
			r.Get("/activity", s.handleActivity)
		})
	})

	return r
}
