package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/carelane/booking-api/internal/middleware"
	"github.com/carelane/booking-api/pkg/logger"
)

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

type Config struct {
	RateLimit rate.Limit
	RateBurst int
}

type Router struct {
	engine   *gin.Engine
	slotH    Handler
	bookingH Handler
	requestH Handler
	healthH  Handler
	registry *prometheus.Registry
}

func NewRouter(
	slotH Handler,
	bookingH Handler,
	requestH Handler,
	healthH Handler,
	registry *prometheus.Registry,
	log *logger.Logger,
	config Config,
) *Router {
	gin.SetMode(gin.ReleaseMode)
	registerValidators()
	engine := gin.New()

	engine.Use(
		middleware.RequestID(),
		middleware.Recovery(log),
		middleware.RequestLogger(log),
		middleware.ErrorHandler(log),
	)

	if config.RateLimit > 0 {
		rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:  config.RateLimit,
			Burst: config.RateBurst,
		})
		engine.Use(rateLimiter.RateLimit())
	}

	return &Router{
		engine:   engine,
		slotH:    slotH,
		bookingH: bookingH,
		requestH: requestH,
		healthH:  healthH,
		registry: registry,
	}
}

func (r *Router) Setup() {
	api := r.engine.Group("/api/v1")
	{
		r.slotH.RegisterRoutes(api)
		r.bookingH.RegisterRoutes(api)
		r.requestH.RegisterRoutes(api)
	}

	root := r.engine.Group("")
	r.healthH.RegisterRoutes(root)

	if r.registry != nil {
		r.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})))
	}
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}

// registerValidators adds the "clock" binding rule for "HH:MM" fields.
func registerValidators() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("clock", func(fl validator.FieldLevel) bool {
			_, err := time.Parse("15:04", fl.Field().String())
			return err == nil
		})
	}
}
