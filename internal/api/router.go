package api

import (
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/hackgods/care-allocation-core/internal/appointment"
	"github.com/hackgods/care-allocation-core/internal/clock"
	"github.com/hackgods/care-allocation-core/internal/constraint"
	"github.com/hackgods/care-allocation-core/internal/metrics"
	"github.com/hackgods/care-allocation-core/internal/notify"
	"github.com/hackgods/care-allocation-core/internal/optimize"
	"github.com/hackgods/care-allocation-core/internal/waitlist"
)

type RouterConfig struct {
	Bookings    *appointment.Service
	Constraints *constraint.Engine
	Optimizer   *optimize.Engine
	Travel      *optimize.TravelTimes
	Waitlist    *waitlist.Engine
	Publisher   notify.Publisher
	Metrics     *metrics.Metrics
	Clock       clock.Clock
	Logger      *zap.Logger

	Checks         []Check
	Env            string
	Version        string
	RateLimit      int // per minute per IP, 0 disables
	AllowedOrigins []string
	LoadThreshold  float64
}

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

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	if cfg.Publisher == nil {
		cfg.Publisher = notify.NewLogPublisher(cfg.Logger)
	}
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	h := &Handlers{
		bookings:      cfg.Bookings,
		constraints:   cfg.Constraints,
		optimizer:     cfg.Optimizer,
		travel:        cfg.Travel,
		waitlist:      cfg.Waitlist,
		publisher:     cfg.Publisher,
		metrics:       cfg.Metrics,
		clock:         cfg.Clock,
		log:           cfg.Logger,
		validate:      newValidator(),
		loadThreshold: cfg.LoadThreshold,
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger, cfg.Metrics))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	// Health endpoints
	health := NewHealthHandler(cfg.Checks, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Handle("/metrics", cfg.Metrics.Handler())

	r.Group(func(r chi.Router) {
		if cfg.RateLimit > 0 {
			r.Use(httprate.LimitByIP(cfg.RateLimit, time.Minute))
		}

		r.Post("/appointments/validate", h.validateAppointment)
		r.Post("/appointments/conflicts", h.detectConflicts)
		r.Post("/appointments/overbooking", h.checkOverbooking)
		r.Post("/appointments", h.createAppointment)
		r.Post("/appointments/{id}/cancel", h.cancelAppointment)
		r.Post("/blocks/check", h.checkBlock)

		r.Post("/slots/suggest", h.suggestSlots)
		r.Get("/providers/load", h.providerLoad)
		r.Get("/providers/{id}/schedule", h.getSchedule)
		r.Put("/providers/{id}/schedule", h.putSchedule)
		r.Get("/providers/{id}/gaps", h.providerGaps)

		r.Route("/waitlist", func(r chi.Router) {
			r.Post("/", h.addWaitlistEntry)
			r.Get("/", h.listWaitlist)
			r.Get("/fairness", h.waitlistFairness)
			r.Post("/refresh", h.refreshWaitlist)
			r.Post("/matches", h.findMatches)
			r.Post("/assign", h.assignSlots)
			r.Post("/matches/{id}/accept", h.acceptMatch)
			r.Post("/matches/{id}/decline", h.declineMatch)
			r.Get("/{id}", h.getWaitlistEntry)
			r.Delete("/{id}", h.cancelWaitlistEntry)
			r.Post("/{id}/dismiss", h.dismissWaitlistEntry)
			r.Put("/{id}/priority", h.setWaitlistPriority)
		})
	})

	return r
}
