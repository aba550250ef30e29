package rpc

import (
	"context"
	"errors"
	"net/http"

	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"
	"github.com/scalarorg/kakarot-relayer/config"
)

// Server exposes the JSON-RPC API over HTTP, along with health and metrics endpoints.
type Server struct {
	cfg  config.ServerConfig
	echo *echo.Echo
	rpc  *gethrpc.Server
}

func NewServer(cfg config.ServerConfig, apis []gethrpc.API, metrics http.Handler) (*Server, error) {
	rpcServer := gethrpc.NewServer()
	for _, api := range apis {
		if err := rpcServer.RegisterName(api.Namespace, api.Service); err != nil {
			return nil, err
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = cfg.ReadTimeout
	e.Server.WriteTimeout = cfg.WriteTimeout
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Debug().Str("requestId", v.RequestID).Str("uri", v.URI).
				Int("status", v.Status).Dur("latency", v.Latency).
				Msg("[RPCServer] request served")
			return nil
		},
	}))

	e.POST("/", echo.WrapHandler(rpcServer))
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	if metrics != nil {
		e.GET("/metrics", echo.WrapHandler(metrics))
	}

	return &Server{cfg: cfg, echo: e, rpc: rpcServer}, nil
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start blocks serving requests until Shutdown is called.
func (s *Server) Start() error {
	log.Info().Str("address", s.cfg.Address).Msg("[RPCServer] [Start] listening")
	if err := s.echo.Start(s.cfg.Address); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.rpc.Stop()
	return s.echo.Shutdown(ctx)
}
