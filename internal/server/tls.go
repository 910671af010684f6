package server

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"time"

	"github.com/CK-Technology/ghostpanel/internal/config"
)

// buildTLSConfig loads the configured certificate, or generates a
// self-signed one when none is configured. Self-signed certificates
// are for development only; the startup log calls this out.
func buildTLSConfig(cfg config.TLSConfig, security config.SecurityConfig) (*tls.Config, bool, error) {
	var cert tls.Certificate
	selfSigned := false

	if cfg.CertFile != "" && cfg.KeyFile != "" {
		loaded, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, false, fmt.Errorf("loading TLS key pair: %w", err)
		}
		cert = loaded
	} else {
		generated, err := generateSelfSignedCert()
		if err != nil {
			return nil, false, fmt.Errorf("generating self-signed certificate: %w", err)
		}
		cert = generated
		selfSigned = true
	}

	minVersion := uint16(tls.VersionTLS12)
	if security.MinTLSVersion == "1.3" {
		minVersion = tls.VersionTLS13
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   minVersion,
	}, selfSigned, nil
}

// generateSelfSignedCert creates an ephemeral ECDSA certificate valid
// for localhost and the loopback addresses.
func generateSelfSignedCert() (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, err
	}

	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"GhostPanel Development"},
			CommonName:   "localhost",
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, err
	}

	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
	}, nil
}
