package transport

import (
	"crypto/tls"
	"crypto/x509"
	"os"

	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/core-tools/hsu-quaestor/pkg/errors"
)

// ClientTLS describes how to reach an endpoint. Without UseTLS the
// connection is plaintext. A client certificate is presented only when both
// files are given.
type ClientTLS struct {
	UseTLS            bool
	ClientCertificate string
	ClientKey         string
	// Optional PEM bundle replacing the system roots
	RootCertificates string
}

func ClientCredentials(cfg ClientTLS) (credentials.TransportCredentials, error) {
	if !cfg.UseTLS {
		return insecure.NewCredentials(), nil
	}

	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.ClientCertificate != "" && cfg.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCertificate, cfg.ClientKey)
		if err != nil {
			return nil, errors.NewIOError("failed to load client certificate", err).
				WithContext("certificate", cfg.ClientCertificate)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if cfg.RootCertificates != "" {
		pool, err := loadCertPool(cfg.RootCertificates)
		if err != nil {
			return nil, err
		}
		tlsConfig.RootCAs = pool
	}

	return credentials.NewTLS(tlsConfig), nil
}

// ServerTLS configures the listening side. An empty certificate means
// plaintext. EnforceMutualTLS requires and verifies client certificates
// against ClientCA (or the system pool when empty).
type ServerTLS struct {
	Certificate      string
	PrivateKeyFile   string
	ClientCA         string
	EnforceMutualTLS bool
}

func ServerCredentials(cfg ServerTLS) (credentials.TransportCredentials, error) {
	if cfg.Certificate == "" {
		return insecure.NewCredentials(), nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.Certificate, cfg.PrivateKeyFile)
	if err != nil {
		return nil, errors.NewIOError("failed to load server certificate", err).
			WithContext("certificate", cfg.Certificate)
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if cfg.EnforceMutualTLS {
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
		if cfg.ClientCA != "" {
			pool, err := loadCertPool(cfg.ClientCA)
			if err != nil {
				return nil, err
			}
			tlsConfig.ClientCAs = pool
		}
	}

	return credentials.NewTLS(tlsConfig), nil
}

func loadCertPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewIOError("failed to read certificate bundle", err).WithContext("path", path)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.NewValidationError("no certificates found in bundle", nil).WithContext("path", path)
	}
	return pool, nil
}
