package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	httpserver "github.com/fyrsmithlabs/traceboot/internal/http"
	"github.com/fyrsmithlabs/traceboot/internal/logging"
	"github.com/fyrsmithlabs/traceboot/internal/rpc"
	"github.com/fyrsmithlabs/traceboot/pkg/config"
)

// host is what Launch mounts: the HTTP server and, when a port is
// configured, the gRPC health server.
type host struct {
	http *httpserver.Server
	rpc  *rpc.Server
}

func newHost(cfg *config.Config, logger *logging.Logger, gatherer prometheus.Gatherer) (*host, error) {
	h := &host{}

	var err error
	h.http, err = httpserver.NewServer(logger, &httpserver.Config{
		Host:    cfg.Server.Host,
		Port:    cfg.Server.HTTPPort,
		Service: cfg.Service.Name,
		Version: cfg.Service.Version,
	}, httpserver.WithGatherer(gatherer))
	if err != nil {
		return nil, fmt.Errorf("failed to create http server: %w", err)
	}

	if cfg.Server.GRPCPort != 0 {
		h.rpc, err = rpc.NewServer(logger, &rpc.Config{
			Host:    cfg.Server.Host,
			Port:    cfg.Server.GRPCPort,
			Service: cfg.Service.Name,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create grpc server: %w", err)
		}
	}
	return h, nil
}

func (h *host) mount(ctx context.Context) error {
	if err := h.http.Mount(ctx); err != nil {
		return err
	}
	if h.rpc != nil {
		if err := h.rpc.Mount(ctx); err != nil {
			return err
		}
	}
	return nil
}

// shutdown stops whatever was mounted. Unmounted servers are no-ops.
func (h *host) shutdown(ctx context.Context) error {
	var errs []error
	if h.rpc != nil {
		errs = append(errs, h.rpc.Shutdown(ctx))
	}
	errs = append(errs, h.http.Shutdown(ctx))
	return errors.Join(errs...)
}
