// Package tlsutil builds the listener's *tls.Config from PFX, PEM or an
// ephemeral self-signed certificate.
// SPDX-License-Identifier: AGPL-3.0-or-later
package tlsutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
	pkcs12modern "software.sslmate.com/src/go-pkcs12"

	"github.com/jsdraven/API_Bootstrap_GoLang/internal/config"
)

// Source names where the serving certificate came from.
type Source string

const (
	SourceNone       Source = ""
	SourcePFX        Source = "pfx"
	SourcePEM        Source = "pem"
	SourceSelfSigned Source = "self_signed"
)

var suiteTable = map[string]uint16{
	// Go constant names
	"TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256": tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	"TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256":   tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	"TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384": tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	"TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384":   tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	"TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305":  tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
	"TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305":    tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
	// Common OpenSSL-style aliases
	"ECDHE-ECDSA-AES128-GCM-SHA256": tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	"ECDHE-RSA-AES128-GCM-SHA256":   tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	"ECDHE-ECDSA-AES256-GCM-SHA384": tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	"ECDHE-RSA-AES256-GCM-SHA384":   tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	"ECDHE-ECDSA-CHACHA20-POLY1305": tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
	"ECDHE-RSA-CHACHA20-POLY1305":   tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
}

// ResolveTLS12Suites maps names to Go cipher constants. Unknown names are
// ignored and aliases of the same suite collapse. No names yields nil, and Go
// uses its secure defaults.
func ResolveTLS12Suites(names []string) []uint16 {
	if len(names) == 0 {
		return nil
	}
	out := lo.FilterMap(names, func(n string, _ int) (uint16, bool) {
		v, ok := suiteTable[strings.ToUpper(strings.TrimSpace(n))]
		return v, ok
	})
	return lo.Uniq(out)
}

// MinVersion maps TLS_MIN_VERSION onto a crypto/tls constant.
func MinVersion(s string) uint16 {
	if strings.EqualFold(strings.TrimSpace(s), "TLS1.3") {
		return tls.VersionTLS13
	}
	return tls.VersionTLS12
}

// LoadTLSFromPFX loads a PKCS#12 (.pfx/.p12) bundle, leaf first then chain.
func LoadTLSFromPFX(path, password string) (tls.Certificate, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return tls.Certificate{}, errors.Wrap(err, "read pfx")
	}

	privKey, leaf, chain, err := pkcs12modern.DecodeChain(b, password)
	if err != nil {
		return tls.Certificate{}, errors.Wrap(err, "decode pfx")
	}

	certDER := make([][]byte, 0, 1+len(chain))
	certDER = append(certDER, leaf.Raw)
	for _, c := range chain {
		certDER = append(certDER, c.Raw)
	}

	return tls.Certificate{
		Certificate: certDER,
		PrivateKey:  privKey,
		Leaf:        leaf,
	}, nil
}

// GenerateSelfSigned creates an ephemeral RSA key and self-signed certificate
// with SANs for localhost, loopback and the machine hostname (if available).
func GenerateSelfSigned() (tls.Certificate, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, errors.Wrap(err, "generate key")
	}

	cn := "localhost"
	dns := []string{"localhost"}
	ips := []net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("::1")}
	if host, err := os.Hostname(); err == nil && host != "" && host != "localhost" {
		dns = append(dns, host)
		cn = host
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return tls.Certificate{}, errors.Wrap(err, "serial")
	}
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(90 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:              dns,
		IPAddresses:           ips,
		BasicConstraintsValid: true,
		SignatureAlgorithm:    x509.SHA256WithRSA,
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, errors.Wrap(err, "create certificate")
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})

	c, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, errors.Wrap(err, "key pair")
	}
	if leaf, err := x509.ParseCertificate(der); err == nil {
		c.Leaf = leaf
	}
	return c, nil
}

// ServerConfig returns the listener TLS config, or nil when TLS is off.
// Precedence is PFX, then PEM pair, then self-signed. A configured source
// that fails to load is an error; there is no silent fallback.
func ServerConfig(cfg config.TLSConfig) (*tls.Config, Source, error) {
	var (
		cert tls.Certificate
		src  Source
		err  error
	)
	switch {
	case cfg.PFXFile != "":
		src = SourcePFX
		cert, err = LoadTLSFromPFX(cfg.PFXFile, cfg.PFXPassword)
	case cfg.CertFile != "" && cfg.KeyFile != "":
		src = SourcePEM
		cert, err = tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		err = errors.Wrap(err, "load key pair")
	case cfg.SelfSigned:
		src = SourceSelfSigned
		cert, err = GenerateSelfSigned()
	default:
		return nil, SourceNone, nil
	}
	if err != nil {
		return nil, src, err
	}

	tc := &tls.Config{
		MinVersion:   MinVersion(cfg.MinVersion),
		Certificates: []tls.Certificate{cert},
	}
	if tc.MinVersion == tls.VersionTLS12 {
		tc.CipherSuites = ResolveTLS12Suites(cfg.CipherSuites)
	}
	return tc, src, nil
}
