package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/Guilhem-Bonnet/hue-downloader/internal/app"
	"github.com/Guilhem-Bonnet/hue-downloader/internal/domain"
	"github.com/Guilhem-Bonnet/hue-downloader/internal/ports"
)

type Server struct {
	logger   zerolog.Logger
	commands *app.CommandService
	catalog  *app.CatalogService
	jobs     *app.JobService
	settings *app.SettingsService
	bus      ports.EventBus
	// onSettingsUpdated est optionnel (ex: journaliser la nouvelle politique).
	onSettingsUpdated func(domain.Settings)
}

// Services regroupe les dépendances du serveur; un champ nil désactive ses routes.
type Services struct {
	Commands *app.CommandService
	Catalog  *app.CatalogService
	Jobs     *app.JobService
	Settings *app.SettingsService
	Bus      ports.EventBus

	OnSettingsUpdated func(domain.Settings)
}

func NewServer(logger zerolog.Logger, svc Services) *Server {
	return &Server{
		logger:            logger,
		commands:          svc.Commands,
		catalog:           svc.Catalog,
		jobs:              svc.Jobs,
		settings:          svc.Settings,
		bus:               svc.Bus,
		onSettingsUpdated: svc.OnSettingsUpdated,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(hlog.NewHandler(s.logger))
	r.Use(hlog.RequestIDHandler("request_id", "Request-Id"))
	r.Use(hlog.RemoteAddrHandler("remote_ip"))
	r.Use(hlog.UserAgentHandler("user_agent"))
	r.Use(hlog.AccessHandler(accessLogFn))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/events", s.handleEvents)

		// Le flux SSE ne doit pas être coupé par le timeout.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(defaultRequestTimeout))

			r.Get("/health", s.handleHealth)
			r.Get("/version", s.handleVersion)
			r.Get("/openapi.json", s.handleOpenAPI)

			if s.commands != nil {
				NewCommandsHandler(s.commands).Routes(r)
			}
			if s.catalog != nil {
				NewCatalogHandler(s.catalog).Routes(r)
			}
			if s.jobs != nil {
				NewJobsHandler(s.jobs).Routes(r)
			}
			if s.settings != nil {
				NewSettingsHandler(s.settings, s.onSettingsUpdated).Routes(r)
			}
		})
	})

	return r
}
