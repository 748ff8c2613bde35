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

	"marketplace-security/internal/config"
	"marketplace-security/internal/factory"
	"marketplace-security/internal/util"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Initialize factory (which loads config and wires every component)
	f, err := factory.NewFactory()
	if err != nil {
		util.Fatal("Failed to initialize factory", util.ErrorField(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	f.Start(ctx)

	cfg := f.Config()
	servers := buildServers(f, cfg)

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		go serve(srv, errCh)
	}

	util.Info("Server started successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.String("store", cfg.Store.Backend),
	)

	select {
	case <-ctx.Done():
		util.Info("Received shutdown signal")
	case err := <-errCh:
		util.Error("Server stopped unexpectedly", util.ErrorField(err))
	}

	shutdown(f, servers)
}

// buildServers returns the plain HTTP server, plus the HTTPS server when TLS
// is on. With TLS the plain listener only answers ACME challenges and
// redirects to HTTPS.
func buildServers(f *factory.Factory, cfg *config.Config) []*http.Server {
	router := f.Router()

	if !cfg.Server.EnableTLS {
		util.Warn("Starting HTTP server - TLS is disabled",
			util.String("environment", cfg.Environment),
			util.Int("port", cfg.Server.Port),
		)
		return []*http.Server{newServer(cfg, cfg.GetServerAddress(), router)}
	}

	tlsManager := f.TLSManager()
	httpsServer := newServer(cfg, fmt.Sprintf(":%d", cfg.Server.TLSPort), router)
	httpsServer.TLSConfig = tlsManager.GetTLSConfig()

	httpServer := newServer(cfg, cfg.GetServerAddress(), tlsManager.HTTPHandler(redirectToHTTPS(cfg.Server.TLSPort)))

	util.Info("Starting HTTPS server",
		util.String("environment", cfg.Environment),
		util.Int("port", cfg.Server.TLSPort),
		util.Bool("auto_cert", cfg.Server.AutoCert),
	)

	return []*http.Server{httpsServer, httpServer}
}

func newServer(cfg *config.Config, addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}

func serve(srv *http.Server, errCh chan<- error) {
	var err error
	if srv.TLSConfig != nil {
		// Certificates come from TLSConfig.GetCertificate.
		err = srv.ListenAndServeTLS("", "")
	} else {
		err = srv.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- fmt.Errorf("%s: %w", srv.Addr, err)
	}
}

func redirectToHTTPS(tlsPort int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		target := fmt.Sprintf("https://%s:%d%s", host, tlsPort, r.URL.RequestURI())
		if tlsPort == 443 {
			target = "https://" + host + r.URL.RequestURI()
		}
		http.Redirect(w, r, target, http.StatusMovedPermanently)
	})
}

func shutdown(f *factory.Factory, servers []*http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			util.Error("Failed to shutdown server gracefully",
				util.String("address", srv.Addr),
				util.ErrorField(err))
		} else {
			util.Info("Server shutdown completed", util.String("address", srv.Addr))
		}
	}

	if err := f.Close(ctx); err != nil {
		util.Error("Factory shutdown incomplete", util.ErrorField(err))
		os.Exit(1)
	}
}
