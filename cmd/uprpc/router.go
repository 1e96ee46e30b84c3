package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"uprpc/router"
)

func newRouterCmd(opts *globalOptions) *cobra.Command {
	settings := router.DefaultSettings()
	var (
		listen          string
		metricsAddr     string
		shutdownTimeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "router",
		Short: "Run a query router",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := opts.logger()
			if err != nil {
				return err
			}
			defer log.Sync()

			reg, closeReg, err := opts.registry(log)
			if err != nil {
				return err
			}
			defer closeReg()

			metrics := prometheus.NewRegistry()
			metrics.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			settings.Log = log
			settings.Registry = reg
			settings.ServiceName = opts.serviceName
			settings.Metrics = metrics
			r := router.NewRouter(settings)

			l, err := net.Listen("tcp", listen)
			if err != nil {
				return err
			}
			return runRouter(cmd.Context(), log, r, l, metrics, metricsAddr, shutdownTimeout)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&listen, "listen", ":7447", "address to accept sessions on")
	flags.StringVar(&settings.AdvertiseAddr, "advertise", "", "address registered for discovery, defaults to the listen address")
	flags.Int64Var(&settings.RegistrationTTL, "registration-ttl", settings.RegistrationTTL, "registry lease ttl in seconds")
	flags.IntVar(&settings.Weight, "weight", settings.Weight, "weight for the weighted balancer")
	flags.DurationVar(&settings.IdleTimeout, "idle-timeout", settings.IdleTimeout, "drop sessions silent for this long, 0 disables")
	flags.DurationVar(&settings.DefaultQueryTimeout, "query-timeout", settings.DefaultQueryTimeout, "timeout of queries that carry none")
	flags.StringVar(&metricsAddr, "metrics", "", "serve prometheus metrics on this address")
	flags.DurationVar(&shutdownTimeout, "shutdown-timeout", 5*time.Second, "grace period for open sessions on shutdown")
	return cmd
}

func runRouter(ctx context.Context, log *zap.Logger, r *router.Router, l net.Listener, metrics *prometheus.Registry, metricsAddr string, shutdownTimeout time.Duration) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return r.Serve(l)
	})

	var metricsServer *http.Server
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(metrics, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			log.Info("serving metrics", zap.String("addr", metricsAddr))
			if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		if metricsServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}
		return r.Shutdown(shutdownTimeout)
	})
	return g.Wait()
}
