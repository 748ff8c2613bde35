// Package tls picks the server certificate: ACME via autocert, then files
// on disk, then (outside production) a cached self-signed development cert.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"

	"marketplace-security/internal/config"
	"marketplace-security/internal/util"
)

var ErrNoCertificate = errors.New("no TLS certificate available")

type TLSManager struct {
	server     config.ServerConfig
	production bool
	autoCert   *autocert.Manager

	mu       sync.Mutex
	fileCert *tls.Certificate
	devCert  *tls.Certificate
}

func NewTLSManager(cfg *config.Config) *TLSManager {
	m := &TLSManager{
		server:     cfg.Server,
		production: cfg.IsProduction(),
	}
	if cfg.Server.EnableTLS && cfg.Server.AutoCert {
		m.setupAutoCert()
	}
	return m
}

func (m *TLSManager) setupAutoCert() {
	if err := os.MkdirAll(m.server.AutoCertDir, 0o700); err != nil {
		util.Warn("Could not create autocert directory", zap.Error(err))
		return
	}

	m.autoCert = &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(m.server.Domain),
		Cache:      autocert.DirCache(m.server.AutoCertDir),
		Email:      m.server.Email,
	}

	util.Info("AutoCert configured",
		zap.String("domain", m.server.Domain),
		zap.String("cache_dir", m.server.AutoCertDir))
}

func (m *TLSManager) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	if m.autoCert != nil {
		cert, err := m.autoCert.GetCertificate(hello)
		if err == nil {
			return cert, nil
		}
		util.Warn("AutoCert failed, falling back", zap.Error(err))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.server.CertFile != "" && m.server.KeyFile != "" {
		if m.fileCert == nil {
			cert, err := tls.LoadX509KeyPair(m.server.CertFile, m.server.KeyFile)
			if err != nil {
				return nil, fmt.Errorf("failed to load certificate files: %w", err)
			}
			m.fileCert = &cert
		}
		return m.fileCert, nil
	}

	if m.production {
		return nil, ErrNoCertificate
	}

	if m.devCert == nil {
		hosts := []string{m.server.Domain, "localhost", "127.0.0.1", "::1"}
		cert, err := NewDevCertGenerator(m.server.AutoCertDir).GenerateCert(hosts)
		if err != nil {
			return nil, fmt.Errorf("failed to generate self-signed certificate: %w", err)
		}
		m.devCert = &cert
	}
	return m.devCert, nil
}

func (m *TLSManager) GetTLSConfig() *tls.Config {
	nextProtos := []string{"h2", "http/1.1"}
	if m.autoCert != nil {
		nextProtos = append(nextProtos, "acme-tls/1")
	}
	return &tls.Config{
		GetCertificate: m.GetCertificate,
		NextProtos:     nextProtos,
		MinVersion:     tls.VersionTLS12,
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},
	}
}

// HTTPHandler answers ACME http-01 challenges when autocert is on and
// otherwise returns fallback unchanged.
func (m *TLSManager) HTTPHandler(fallback http.Handler) http.Handler {
	if m.autoCert == nil {
		return fallback
	}
	return m.autoCert.HTTPHandler(fallback)
}
