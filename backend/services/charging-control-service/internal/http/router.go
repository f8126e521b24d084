package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"evcsms/backend/services/charging-control-service/internal/http/handlers"
)

// RouterDeps collects handler dependencies. Metrics may be nil.
type RouterDeps struct {
	Reservations *handlers.ReservationHandlers
	Waitlist     *handlers.WaitlistHandlers
	QR           *handlers.QRHandlers
	Sessions     *handlers.SessionHandlers
	Health       http.HandlerFunc
	Metrics      http.Handler
}

// NewRouter registers endpoints.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	if deps.Health != nil {
		r.Get("/health", deps.Health)
	}
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Route("/reservations", func(r chi.Router) {
		r.Get("/", deps.Reservations.ListMine)
		r.Post("/", deps.Reservations.Create)
		r.Get("/check", deps.Reservations.Check)
		r.Post("/expire", deps.Reservations.Expire)
		r.Get("/{id}", deps.Reservations.Get)
		r.Put("/{id}", deps.Reservations.Update)
		r.Delete("/{id}", deps.Reservations.Cancel)
	})

	r.Route("/waitlist", func(r chi.Router) {
		r.Post("/", deps.Waitlist.Join)
		r.Get("/{id}", deps.Waitlist.List)
		r.Patch("/{id}/status", deps.Waitlist.UpdateStatus)
		r.Delete("/{id}", deps.Waitlist.Remove)
	})

	r.Route("/qr", func(r chi.Router) {
		r.Post("/generate", deps.QR.Generate)
		r.Get("/{id}/validate", deps.QR.Validate)
		r.Get("/{id}/image", deps.QR.Image)
		r.Post("/{id}/check-in", deps.QR.CheckIn)
	})

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/initiate", deps.Sessions.Initiate)
		r.Post("/start", deps.Sessions.Start)
		r.Post("/pause", deps.Sessions.Pause)
		r.Post("/resume", deps.Sessions.Resume)
		r.Post("/stop", deps.Sessions.Stop)
		r.Post("/cancel", deps.Sessions.Cancel)
		r.Post("/fail", deps.Sessions.Fail)
		r.Get("/{id}", deps.Sessions.Get)
		r.Post("/{id}/meter", deps.Sessions.Meter)
		r.Get("/{id}/telemetry", deps.Sessions.Telemetry)
		r.Get("/{id}/events", deps.Sessions.Events)
		r.Get("/{id}/stream", deps.Sessions.Stream)
	})

	return r
}
