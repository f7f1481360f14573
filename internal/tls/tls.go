package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/loykin/autosd/internal/config"
)

const (
	tlsCaCrt = "tls_ca.crt"
	tlsCrt   = "tls.crt"
	tlsKey   = "tls.key"

	defaultValidDays = 365 * 5
)

// parseTLSVersion maps a config value to a tls version. ok is false for an
// empty or unknown value.
func parseTLSVersion(ver string) (uint16, bool) {
	switch strings.ToLower(strings.TrimSpace(ver)) {
	case "", "default":
		return tls.VersionTLS13, false
	case "1.2", "tls1.2":
		return tls.VersionTLS12, true
	case "1.3", "tls1.3":
		return tls.VersionTLS13, true
	default:
		return 0, false
	}
}

// resolveTLSVersions returns the configured version range. An empty bound
// means TLS 1.3; unknown values and an inverted range are errors.
func resolveTLSVersions(cfg config.ServerConfig) (minVer, maxVer uint16, err error) {
	bound := func(name, v string) (uint16, error) {
		ver, ok := parseTLSVersion(v)
		if ok || strings.TrimSpace(v) == "" || strings.EqualFold(strings.TrimSpace(v), "default") {
			return ver, nil
		}
		return 0, fmt.Errorf("unsupported %s %q (want 1.2 or 1.3)", name, v)
	}
	if minVer, err = bound("tls_min_version", cfg.TLSMinVersion); err != nil {
		return 0, 0, err
	}
	if maxVer, err = bound("tls_max_version", cfg.TLSMaxVersion); err != nil {
		return 0, 0, err
	}
	if minVer > maxVer {
		return 0, 0, fmt.Errorf("tls_min_version %q is above tls_max_version %q", cfg.TLSMinVersion, cfg.TLSMaxVersion)
	}
	return minVer, maxVer, nil
}

// safeReadFile reads p, refusing paths that leave baseDir.
func safeReadFile(baseDir, p string) ([]byte, error) {
	clean := filepath.Clean(p)
	if baseDir != "" {
		absBase, _ := filepath.Abs(baseDir)
		absFile, _ := filepath.Abs(clean)
		if !strings.HasPrefix(absFile, absBase+string(filepath.Separator)) && absFile != absBase {
			return nil, errors.New("file path outside of allowed directory")
		}
	}
	return os.ReadFile(clean)
}

// certReloader serves the key pair from disk and reloads it when the
// certificate file changes, so a renewed pair is used without a restart.
type certReloader struct {
	certPath, keyPath string

	mu      sync.Mutex
	cert    *tls.Certificate
	modTime time.Time
}

func newCertReloader(certPath, keyPath string) (*certReloader, error) {
	r := &certReloader{certPath: certPath, keyPath: keyPath}
	if _, err := r.get(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *certReloader) get() (*tls.Certificate, error) {
	info, err := os.Stat(r.certPath)
	if err != nil {
		return nil, fmt.Errorf("stat certificate: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cert != nil && info.ModTime().Equal(r.modTime) {
		return r.cert, nil
	}
	certPEM, err := safeReadFile(filepath.Dir(r.certPath), r.certPath)
	if err != nil {
		return nil, err
	}
	keyPEM, err := safeReadFile(filepath.Dir(r.keyPath), r.keyPath)
	if err != nil {
		return nil, err
	}
	pair, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}
	r.cert, r.modTime = &pair, info.ModTime()
	return r.cert, nil
}

func (r *certReloader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return r.get()
}

// SetupTLS returns the API server TLS config, or nil when TLS is disabled.
// Explicit cert/key files win over a certificate directory; a directory with
// auto_generate gets a self-signed pair on first start. The pair is loaded
// once here so a bad file fails startup instead of the first handshake.
func SetupTLS(server config.ServerConfig) (*tls.Config, error) {
	if !server.TLS.Enabled {
		return nil, nil
	}
	minVer, maxVer, err := resolveTLSVersions(server)
	if err != nil {
		return nil, err
	}

	certPath, keyPath := server.TLS.CertFile, server.TLS.KeyFile
	switch {
	case certPath != "" && keyPath != "":
	case server.TLS.Dir != "":
		certPath = filepath.Join(server.TLS.Dir, tlsCrt)
		keyPath = filepath.Join(server.TLS.Dir, tlsKey)
		if server.TLS.AutoGenerate && !certificatesExist(certPath, keyPath) {
			if err := generateCertificate(server.TLS, server.TLS.Dir); err != nil {
				return nil, fmt.Errorf("certificate generation failed: %w", err)
			}
		}
	default:
		return nil, errors.New("TLS enabled but neither cert_file/key_file nor dir is set")
	}

	reloader, err := newCertReloader(certPath, keyPath)
	if err != nil {
		return nil, err
	}
	// #nosec G402 the range is validated above
	return &tls.Config{
		GetCertificate: reloader.GetCertificate,
		MinVersion:     minVer,
		MaxVersion:     maxVer,
	}, nil
}

func certificatesExist(certPath, keyPath string) bool {
	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	return certErr == nil && keyErr == nil
}

// generateCertificate writes a self-signed pair for the loopback API into
// destDir.
func generateCertificate(tlsConfig config.TLSConfig, destDir string) error {
	if err := os.MkdirAll(destDir, 0o700); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}

	cc := CertConfig{
		CommonName:   "localhost",
		Organization: "autosd",
		DNSNames:     []string{"localhost"},
		IPAddresses:  []string{"127.0.0.1", "::1"},
		NotAfter:     time.Now().AddDate(0, 0, defaultValidDays),
		CertPath:     filepath.Join(destDir, tlsCrt),
		KeyPath:      filepath.Join(destDir, tlsKey),
		CACertPath:   filepath.Join(destDir, tlsCaCrt),
	}
	if ag := tlsConfig.AutoGen; ag != nil {
		if ag.CommonName != "" {
			cc.CommonName = ag.CommonName
		}
		if ag.Organization != "" {
			cc.Organization = ag.Organization
		}
		if len(ag.DNSNames) > 0 {
			cc.DNSNames = ag.DNSNames
		}
		if len(ag.IPAddresses) > 0 {
			cc.IPAddresses = ag.IPAddresses
		}
		if ag.ValidDays > 0 {
			cc.NotAfter = time.Now().AddDate(0, 0, ag.ValidDays)
		}
	}
	return GenerateSelfSignedCert(cc)
}
