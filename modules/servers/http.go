package servers

import (
	"context"
	"fmt"
	"time"

	"github.com/Deepreo/jobscheduler/core"
	"github.com/Deepreo/jobscheduler/errors"
	"github.com/Deepreo/jobscheduler/logger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/etag"
	"github.com/gofiber/fiber/v2/middleware/healthcheck"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"go.elastic.co/apm/module/apmfiber/v2"
	"go.elastic.co/apm/v2"
	"go.uber.org/zap"
)

const (
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
	DefaultServerHeader = "jobscheduler"
	DefaultBodyLimit    = 64 * 1024
	DefaultPort         = "8081"
	DefaultHost         = "localhost"
)

// Config of the admin HTTP surface. Durations are strings so they can come
// from any config source.
type Config struct {
	Enabled      bool     `mapstructure:"enabled"`
	ReadTimeout  string   `mapstructure:"read_timeout"`
	WriteTimeout string   `mapstructure:"write_timeout"`
	ServerHeader string   `mapstructure:"server_header"`
	BodyLimit    int      `mapstructure:"body_limit"`
	Port         string   `mapstructure:"port"`
	Host         string   `mapstructure:"host"`
	Features     Features `mapstructure:"features"`
}

type Features struct {
	RequestID   RequestID   `mapstructure:"request_id"`
	Proxy       Proxy       `mapstructure:"proxy"`
	RateLimit   RateLimit   `mapstructure:"rate_limit"`
	HealthCheck HealthCheck `mapstructure:"health_check"`
	Etag        Etag        `mapstructure:"etag"`
	ElasticAPM  ElasticAPM  `mapstructure:"elastic_apm"`
}

type Etag struct {
	Enabled bool `mapstructure:"enabled"`
}

type ElasticAPM struct {
	Enabled bool `mapstructure:"enabled"`
}

type RequestID struct {
	Enabled bool `mapstructure:"enabled"`
}

type Proxy struct {
	Enabled        bool     `mapstructure:"enabled"`
	ProxyHeader    string   `mapstructure:"proxy_header"`
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

type RateLimit struct {
	Enabled    bool   `mapstructure:"enabled"`
	Max        int    `mapstructure:"max"`
	Expiration string `mapstructure:"expiration"`
}

type HealthCheck struct {
	Enabled bool `mapstructure:"enabled"`
}

func DefaultConfig() Config {
	return Config{
		ReadTimeout:  DefaultReadTimeout.String(),
		WriteTimeout: DefaultWriteTimeout.String(),
		ServerHeader: DefaultServerHeader,
		BodyLimit:    DefaultBodyLimit,
		Port:         DefaultPort,
		Host:         DefaultHost,
		Features: Features{
			RequestID:   RequestID{Enabled: true},
			HealthCheck: HealthCheck{Enabled: true},
		},
	}
}

func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	_, err := buildFiberConfig(&c)
	return err
}

// HandlerFunc serves one decoded request.
type HandlerFunc func(ctx context.Context, req any) (any, error)

// Validator is implemented by requests that check themselves after decoding.
type Validator interface {
	Validate() error
}

// AdminServer exposes the scheduler's read and control operations over HTTP.
type AdminServer struct {
	app       *fiber.App
	cfg       *Config
	scheduler core.Scheduler
	log       *zap.Logger
}

var _ core.Server = (*AdminServer)(nil)

func NewAdminServer(cfg Config, scheduler core.Scheduler, log *zap.Logger) (*AdminServer, error) {
	fiberConfig, err := buildFiberConfig(&cfg)
	if err != nil {
		return nil, err
	}

	s := &AdminServer{
		app:       fiber.New(fiberConfig),
		cfg:       &cfg,
		scheduler: scheduler,
		log:       logger.OrNop(log).Named("admin_server"),
	}
	s.applyMiddlewares()
	s.routes()
	return s, nil
}

func (s *AdminServer) applyMiddlewares() {
	s.app.Use(recover.New())
	if s.cfg.Features.RequestID.Enabled {
		s.app.Use(requestid.New())
	}
	if s.cfg.Features.RateLimit.Enabled {
		s.app.Use(limiter.New(limiter.Config{
			Max:        s.cfg.Features.RateLimit.Max,
			Expiration: parseDuration(s.cfg.Features.RateLimit.Expiration, time.Minute),
		}))
	}
	if s.cfg.Features.HealthCheck.Enabled {
		s.app.Use(healthcheck.New())
	}
	if s.cfg.Features.Etag.Enabled {
		s.app.Use(etag.New())
	}
	if s.cfg.Features.ElasticAPM.Enabled {
		s.app.Use(apmfiber.Middleware())
	}
}

func (s *AdminServer) GetApp() *fiber.App {
	return s.app
}

func (s *AdminServer) Run() error {
	addr := fmt.Sprintf("%s:%s", s.cfg.Host, s.cfg.Port)
	if s.cfg.Features.Proxy.Enabled {
		addr = fmt.Sprintf(":%s", s.cfg.Port)
	}
	s.log.Info("admin server listening", zap.String("addr", addr))
	return s.app.Listen(addr)
}

func (s *AdminServer) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// Register mounts handler at method and path. Each call decodes a fresh
// request from reqFactory out of the path, query and body.
func (s *AdminServer) Register(method, path string, handler HandlerFunc, reqFactory func() any) {
	s.app.Add(method, path, func(c *fiber.Ctx) error {
		req := reqFactory()
		if req != nil {
			if len(c.Body()) > 0 {
				if err := c.BodyParser(req); err != nil {
					return badRequest(c, err)
				}
			}
			if err := c.ParamsParser(req); err != nil {
				return badRequest(c, err)
			}
			if err := c.QueryParser(req); err != nil {
				return badRequest(c, err)
			}
			if v, ok := req.(Validator); ok {
				if err := v.Validate(); err != nil {
					return badRequest(c, err)
				}
			}
		}

		res, err := handler(c.UserContext(), req)
		if err != nil {
			return s.fail(c, err)
		}
		return c.JSON(core.BaseResponse[any]{Success: true, Data: res})
	})
}

func badRequest(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(core.BaseResponse[any]{
		Error: &core.APIError{Message: err.Error(), Code: errors.CodeOf(err)},
	})
}

// fail maps an error to a status by its level. Infrastructure and unknown
// errors hide their message behind the trace id.
func (s *AdminServer) fail(c *fiber.Ctx, err error) error {
	var traceID string
	if tx := apm.TransactionFromContext(c.UserContext()); tx != nil {
		traceID = tx.TraceContext().Trace.String()
	}

	resp := core.BaseResponse[any]{Error: &core.APIError{Code: errors.CodeOf(err)}}
	var extendErr *errors.ExtendError
	if errors.As(err, &extendErr) {
		resp.Error.Details = extendErr.Metadata
	}

	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, errors.ErrNotFound):
		status = fiber.StatusNotFound
		resp.Error.Message = err.Error()
	case extendErr == nil:
		resp.Error.Message = err.Error()
	case errors.IsValidationError(extendErr), errors.IsDomainError(extendErr):
		status = fiber.StatusBadRequest
		resp.Error.Message = extendErr.Error()
	case errors.IsAppError(extendErr):
		status = fiber.StatusServiceUnavailable
		resp.Error.Message = extendErr.Error()
	case errors.IsInfraError(extendErr):
		status = fiber.StatusBadGateway
		resp.Error.Message = "Internal Server Error"
		resp.Error.TraceID = traceID
	default:
		resp.Error.Message = "Internal Server Error"
		resp.Error.TraceID = traceID
	}

	if status >= fiber.StatusInternalServerError {
		s.log.Error("admin request failed", zap.String("path", c.Path()), zap.Error(err))
	}
	return c.Status(status).JSON(resp)
}

func buildFiberConfig(cfg *Config) (fiber.Config, error) {
	config := fiber.Config{
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
		ServerHeader: DefaultServerHeader,
		BodyLimit:    DefaultBodyLimit,
		AppName:      "jobscheduler-admin",
	}
	if cfg.ReadTimeout != "" {
		d, err := time.ParseDuration(cfg.ReadTimeout)
		if err != nil {
			return fiber.Config{}, errors.ValidationError(errors.Newf("invalid read_timeout: %s", cfg.ReadTimeout))
		}
		config.ReadTimeout = d
	}
	if cfg.WriteTimeout != "" {
		d, err := time.ParseDuration(cfg.WriteTimeout)
		if err != nil {
			return fiber.Config{}, errors.ValidationError(errors.Newf("invalid write_timeout: %s", cfg.WriteTimeout))
		}
		config.WriteTimeout = d
	}
	if cfg.ServerHeader != "" {
		config.ServerHeader = cfg.ServerHeader
	}
	if cfg.BodyLimit != 0 {
		config.BodyLimit = cfg.BodyLimit
	}
	if cfg.Features.Proxy.Enabled {
		if cfg.Features.Proxy.ProxyHeader != "" {
			config.ProxyHeader = cfg.Features.Proxy.ProxyHeader
		}
		if len(cfg.Features.Proxy.TrustedProxies) > 0 {
			config.EnableTrustedProxyCheck = true
			config.TrustedProxies = cfg.Features.Proxy.TrustedProxies
		}
	}
	return config, nil
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
