package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"otp-service/internal/config"
	"otp-service/internal/factory"
	"otp-service/internal/util"

	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)
	defer util.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	f, err := factory.NewFactory(ctx, cfg, logger)
	if err != nil {
		util.Fatal("Failed to initialize factory", util.ErrorField(err))
	}
	defer f.Close()

	if err := run(ctx, f); err != nil {
		util.Error("Server stopped with error", util.ErrorField(err))
		f.Close()
		util.Sync()
		os.Exit(1)
	}
}

// run serves until ctx is cancelled or a listener fails
func run(ctx context.Context, f *factory.Factory) error {
	cfg := f.Config()
	router := f.Router()

	servers := buildServers(f, router)

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		srv := srv // per-iteration copy (go directive < 1.22)
		g.Go(func() error {
			var err error
			if srv.TLSConfig != nil {
				util.Info("Starting HTTPS server",
					util.String("address", srv.Addr),
					util.Bool("auto_cert", cfg.Server.AutoCert),
				)
				err = srv.ListenAndServeTLS("", "")
			} else {
				util.Info("Starting HTTP server", util.String("address", srv.Addr))
				err = srv.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("%s: %w", srv.Addr, err)
			}
			return nil
		})
	}

	if !cfg.Server.EnableTLS {
		util.Warn("TLS is disabled",
			util.String("environment", cfg.Environment),
			util.Int("port", cfg.Server.Port),
		)
	}

	g.Go(func() error {
		<-gctx.Done()
		util.Info("Shutting down servers")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown %s: %w", srv.Addr, err))
			}
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

// buildServers returns the plain listener and, with TLS on, the HTTPS listener.
// With TLS on the plain listener only answers ACME challenges and redirects.
func buildServers(f *factory.Factory, router http.Handler) []*http.Server {
	cfg := f.Config()

	plain := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	if !cfg.Server.EnableTLS {
		return []*http.Server{plain}
	}

	tlsManager := f.TLSManager()
	plain.Handler = tlsManager.HTTPHandler(http.HandlerFunc(redirectToHTTPS(cfg.Server.TLSPort)))

	secure := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.TLSPort),
		Handler:      router,
		TLSConfig:    tlsManager.GetTLSConfig(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	return []*http.Server{plain, secure}
}

func redirectToHTTPS(tlsPort int) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		target := "https://" + host
		if tlsPort != 443 {
			target = fmt.Sprintf("%s:%d", target, tlsPort)
		}
		http.Redirect(w, r, target+r.URL.RequestURI(), http.StatusPermanentRedirect)
	}
}
