package http

import (
	"context"
	"net/http"

	"github.com/docket-desk/internal/application/attachment"
	"github.com/docket-desk/internal/application/delivery"
	"github.com/docket-desk/internal/config"
	"github.com/docket-desk/internal/domain"
	jwtinfra "github.com/docket-desk/internal/infrastructure/jwt"
	"github.com/docket-desk/internal/transport/http/handler"
	appmiddleware "github.com/docket-desk/internal/transport/http/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"
)

var devClaims = &jwtinfra.Claims{UserID: "local", Name: "local", Role: domain.RoleAdmin}

// NewRouter builds and returns the application router. ctx bounds background
// work such as rate-limiter cleanup.
func NewRouter(ctx context.Context, cfg *config.Config, deps *Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	var authMw func(http.Handler) http.Handler
	if deps.Verifier != nil {
		authMw = appmiddleware.Auth(deps.Verifier)
	} else {
		authMw = appmiddleware.DevIdentity(devClaims)
	}

	// Bulk transitions fan out to one store write per item.
	bulkRL := appmiddleware.NewRateLimiter(ctx, rate.Limit(cfg.BulkRateLimit), cfg.BulkRateBurst)

	deliverySvc := delivery.NewService(delivery.ServiceDeps{
		Store:     deps.Store,
		Publisher: deps.Publisher,
	})
	var attachmentH *handler.AttachmentHandler
	if deps.Objects != nil && deps.AttachmentItems != nil {
		attachmentSvc := attachment.NewService(attachment.ServiceDeps{
			Objects: deps.Objects,
			Items:   deps.AttachmentItems,
			URLTTL:  cfg.AttachmentURLTTL,
		})
		attachmentH = handler.NewAttachmentHandler(attachmentSvc, cfg.MaxUploadBytes).WithStoreMessage(cfg.StoreErrorMessage)
	}
	healthH := handler.NewHealthHandler()

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health-check/{action}", healthH.Ping)

		r.Group(func(r chi.Router) {
			r.Use(authMw)

			for _, kind := range []domain.Kind{domain.KindNotification, domain.KindDocument} {
				h := handler.NewItemHandler(deliverySvc, kind).WithStoreMessage(cfg.StoreErrorMessage)
				r.Route("/"+kind.Plural(), func(r chi.Router) {
					r.Get("/", h.List)
					r.Post("/", h.Create)
					r.With(bulkRL.Limit).Patch("/deliver/{action}", h.Deliver)
					r.With(bulkRL.Limit).Patch("/actions", h.Actions)
					r.Get("/{id}", h.Get)
					r.With(appmiddleware.RequireRole(domain.RoleAdmin)).Delete("/{id}", h.Delete)

					if kind == domain.KindDocument && attachmentH != nil {
						r.Post("/{id}/attachment", attachmentH.Upload)
						r.Get("/{id}/attachment", attachmentH.Download)
					}
				})
			}
		})
	})

	return r
}
