// Copyright (C) 2020  Lukas Dietrich <lukas@lukasdietrich.com>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"

	"github.com/lukasdietrich/sleet/internal/log"
)

func init() {
	viper.SetDefault("metrics.address", "")
	viper.SetDefault("metrics.path", "/metrics")
}

// ServerOptions configure the http endpoint for prometheus.
type ServerOptions struct {
	// Address is the listening address. An empty address disables the endpoint.
	Address string
	Path    string
}

// ServerOptionsFromViper reads the metrics options from viper.
func ServerOptionsFromViper() ServerOptions {
	return ServerOptions{
		Address: viper.GetString("metrics.address"),
		Path:    viper.GetString("metrics.path"),
	}
}

// Server serves all registered metrics over http.
type Server struct {
	opts ServerOptions
}

// NewServer creates a new metrics server.
func NewServer(opts ServerOptions) *Server {
	return &Server{opts: opts}
}

// Handler returns the http handler of the metrics endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.opts.Path, promhttp.Handler())

	return mux
}

// ListenAndServe blocks until the context is cancelled. It returns immediately, if the
// endpoint is disabled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s.opts.Address == "" {
		return nil
	}

	ctx = log.WithOrigin(ctx, "metrics")
	server := &http.Server{
		Addr:    s.opts.Address,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.WarnContext(ctx).Err(err).Msg("could not shut down metrics server")
		}
	}()

	log.InfoContext(ctx).
		Str("addr", s.opts.Address).
		Str("path", s.opts.Path).
		Msg("serving metrics")

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}
