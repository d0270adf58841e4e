package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

// TLS builds the client TLS configuration for Temporal. It returns nil, nil
// when no client certificate is configured, meaning plaintext.
func (t TemporalConfig) TLS() (*tls.Config, error) {
	if t.TLSCert == "" && t.TLSKey == "" {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(t.TLSCert, t.TLSKey)
	if err != nil {
		return nil, fmt.Errorf("load temporal client cert: %w", err)
	}
	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		ServerName:   t.TLSServerName,
		MinVersion:   tls.VersionTLS12,
	}

	if t.TLSCACert != "" {
		if cfg.RootCAs, err = loadCertPool(t.TLSCACert); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func loadCertPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read temporal CA cert: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("parse temporal CA cert: no certificates found")
	}
	return pool, nil
}
