package rpc

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/cors"
	"github.com/tendermint/tendermint/libs/log"
	"github.com/tendermint/tendermint/libs/service"
	"golang.org/x/net/netutil"

	"github.com/rollkit/rollcore/config"
	"github.com/rollkit/rollcore/rpc/json"
)

// Server serves the JSON-RPC API of a node.
type Server struct {
	*service.BaseService

	config  config.RPCConfig
	backend json.Backend

	server   http.Server
	listener net.Listener
}

// NewServer creates new instance of Server with given configuration.
func NewServer(backend json.Backend, conf config.RPCConfig, logger log.Logger) *Server {
	srv := &Server{
		config:  conf,
		backend: backend,
	}
	srv.BaseService = service.NewBaseService(logger, "RPC", srv)
	return srv
}

// OnStart is called when Server is started (see service.BaseService for details).
func (s *Server) OnStart() error {
	return s.startRPC()
}

// OnStop is called when Server is stopped (see service.BaseService for details).
func (s *Server) OnStop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.Logger.Error("error while shutting down RPC server", "error", err)
	}
}

// Addr returns the address the server listens on, nil before start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) startRPC() error {
	if s.config.ListenAddress == "" {
		s.Logger.Info("Listen address not specified - RPC will not be exposed")
		return nil
	}
	proto, addr := "tcp", s.config.ListenAddress
	if parts := strings.SplitN(s.config.ListenAddress, "://", 2); len(parts) == 2 {
		proto, addr = parts[0], parts[1]
	}
	if proto != "tcp" && proto != "unix" {
		return errors.New("invalid RPC listen address: expecting tcp://host:port or host:port")
	}

	listener, err := net.Listen(proto, addr)
	if err != nil {
		return err
	}

	if s.config.MaxOpenConnections != 0 {
		s.Logger.Debug("limiting number of connections", "limit", s.config.MaxOpenConnections)
		listener = netutil.LimitListener(listener, s.config.MaxOpenConnections)
	}

	handler, err := json.GetHTTPHandler(s.backend, s.Logger)
	if err != nil {
		_ = listener.Close()
		return err
	}

	if s.config.IsCorsEnabled() {
		s.Logger.Debug("CORS enabled",
			"origins", s.config.CORSAllowedOrigins,
			"methods", s.config.CORSAllowedMethods,
			"headers", s.config.CORSAllowedHeaders,
		)
		c := cors.New(cors.Options{
			AllowedOrigins: s.config.CORSAllowedOrigins,
			AllowedMethods: s.config.CORSAllowedMethods,
			AllowedHeaders: s.config.CORSAllowedHeaders,
		})
		handler = c.Handler(handler)
	}

	s.listener = listener
	s.server = http.Server{
		Handler:           handler,
		ReadHeaderTimeout: time.Second * 2,
	}
	go func() {
		s.Logger.Info("serving HTTP", "listen address", listener.Addr())
		if err := s.server.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
			s.Logger.Error("error while serving HTTP", "error", err)
		}
	}()
	return nil
}
