package netproxy

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"time"
)

// GeneratedCA is the root certificate goproxy presents when MITM-decoding
// a CONNECT tunnel. fence generates one per invocation rather than
// shipping a fixed root, so a leaked binary never carries a trusted key.
type GeneratedCA struct {
	TLSCert tls.Certificate
	PEMPath string
}

// mitmCAEnvVars are the environment variables fence injects into the
// sandboxed child so TLS clients that honor a custom trust root (curl,
// Node's NODE_EXTRA_CA_CERTS, Python's requests via REQUESTS_CA_BUNDLE,
// Go's SSL_CERT_FILE) pick up the generated CA instead of failing the
// handshake against an MITM'd connection.
var mitmCAEnvVars = []string{
	"SSL_CERT_FILE",
	"NODE_EXTRA_CA_CERTS",
	"REQUESTS_CA_BUNDLE",
	"CURL_CA_BUNDLE",
	"GIT_SSL_CAINFO",
}

// GenerateCA creates a fresh self-signed root CA and writes its PEM to
// certDir/fence-mitm-ca.pem so Env can point sandboxed children at it.
func GenerateCA(certDir string) (*GeneratedCA, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generate mitm ca key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate mitm ca serial: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "fence local MITM CA", Organization: []string{"fence"}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create mitm ca certificate: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})

	tlsCert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("load mitm ca keypair: %w", err)
	}
	if tlsCert.Leaf == nil {
		leaf, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("parse mitm ca leaf: %w", err)
		}
		tlsCert.Leaf = leaf
	}

	path := certDir + "/fence-mitm-ca.pem"
	if err := os.WriteFile(path, certPEM, 0o600); err != nil {
		return nil, fmt.Errorf("write mitm ca pem: %w", err)
	}

	return &GeneratedCA{TLSCert: tlsCert, PEMPath: path}, nil
}

// Env returns the environment variable assignments a sandboxed child needs
// to trust this MITM CA.
func (ca *GeneratedCA) Env() map[string]string {
	env := make(map[string]string, len(mitmCAEnvVars))
	for _, v := range mitmCAEnvVars {
		env[v] = ca.PEMPath
	}
	return env
}
