// Package redisconn builds the go-redis client shared by the Redis tools and
// the Redis session registry.
package redisconn

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ClientName is reported to the server with CLIENT SETNAME.
const ClientName = "redis-mcp-server"

// Certificate verification modes accepted in Config.SSLCertReqs.
const (
	CertReqsRequired = "required"
	CertReqsOptional = "optional"
	CertReqsNone     = "none"
)

// Config describes how to reach Redis. When URL is set it takes precedence
// over the discrete host fields; TLS file settings apply to both.
type Config struct {
	URL         string `yaml:"url" env:"REDIS_URL"`
	Host        string `yaml:"host" env:"REDIS_HOST"`
	Port        int    `yaml:"port" env:"REDIS_PORT"`
	DB          int    `yaml:"db" env:"REDIS_DB"`
	Username    string `yaml:"username" env:"REDIS_USERNAME"`
	Password    string `yaml:"password" env:"REDIS_PWD"`
	SSL         bool   `yaml:"ssl" env:"REDIS_SSL"`
	SSLCAPath   string `yaml:"ssl_ca_path" env:"REDIS_SSL_CA_PATH"`
	SSLCACerts  string `yaml:"ssl_ca_certs" env:"REDIS_SSL_CA_CERTS"`
	SSLKeyFile  string `yaml:"ssl_keyfile" env:"REDIS_SSL_KEYFILE"`
	SSLCertFile string `yaml:"ssl_certfile" env:"REDIS_SSL_CERTFILE"`
	SSLCertReqs string `yaml:"ssl_cert_reqs" env:"REDIS_SSL_CERT_REQS"`
	ClusterMode bool   `yaml:"cluster_mode" env:"REDIS_CLUSTER_MODE"`

	PoolSize    int           `yaml:"pool_size" env:"REDIS_POOL_SIZE"`
	DialTimeout time.Duration `yaml:"dial_timeout" env:"REDIS_DIAL_TIMEOUT"`
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		Host:        "127.0.0.1",
		Port:        6379,
		SSLCertReqs: CertReqsRequired,
		DialTimeout: 5 * time.Second,
	}
}

// url returns the configured URL, ignoring unexpanded placeholders some MCP
// clients pass through verbatim.
func (c Config) url() string {
	u := strings.TrimSpace(c.URL)
	if u == "" || (strings.HasPrefix(u, "${") && strings.HasSuffix(u, "}")) {
		return ""
	}
	return u
}

// Validate reports settings that cannot produce a working client.
func (c Config) Validate() error {
	var errs []error
	if c.url() == "" {
		if c.Host == "" {
			errs = append(errs, errors.New("redis host is required"))
		}
		if c.Port <= 0 || c.Port > 65535 {
			errs = append(errs, fmt.Errorf("redis port %d out of range", c.Port))
		}
	}
	if c.DB < 0 {
		errs = append(errs, fmt.Errorf("redis db %d must not be negative", c.DB))
	}
	switch strings.ToLower(c.SSLCertReqs) {
	case "", CertReqsRequired, CertReqsOptional, CertReqsNone:
	default:
		errs = append(errs, fmt.Errorf("redis ssl_cert_reqs %q must be one of required, optional, none", c.SSLCertReqs))
	}
	if (c.SSLCertFile == "") != (c.SSLKeyFile == "") {
		errs = append(errs, errors.New("redis ssl_certfile and ssl_keyfile must be set together"))
	}
	return errors.Join(errs...)
}

// Addr describes the target for logs. Credentials are never included.
func (c Config) Addr() string {
	if u := c.url(); u != "" {
		if opt, err := redis.ParseURL(u); err == nil {
			return opt.Addr
		}
		return "<invalid url>"
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// UniversalOptions translates c into go-redis options.
func (c Config) UniversalOptions() (*redis.UniversalOptions, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	opts := &redis.UniversalOptions{
		ClientName:            ClientName,
		PoolSize:              c.PoolSize,
		DialTimeout:           c.DialTimeout,
		ContextTimeoutEnabled: true,
		IsClusterMode:         c.ClusterMode,
	}

	useTLS := c.SSL
	if u := c.url(); u != "" {
		parsed, err := redis.ParseURL(u)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts.Addrs = []string{parsed.Addr}
		opts.DB = parsed.DB
		opts.Username = parsed.Username
		opts.Password = parsed.Password
		useTLS = useTLS || parsed.TLSConfig != nil
		if parsed.TLSConfig != nil {
			opts.TLSConfig = parsed.TLSConfig
		}
	} else {
		opts.Addrs = []string{net.JoinHostPort(c.Host, strconv.Itoa(c.Port))}
		opts.DB = c.DB
		opts.Username = c.Username
		opts.Password = c.Password
	}
	if c.ClusterMode {
		opts.DB = 0
	}

	if useTLS {
		tc, err := c.tlsConfig(opts.TLSConfig, opts.Addrs[0])
		if err != nil {
			return nil, err
		}
		opts.TLSConfig = tc
	}
	return opts, nil
}

// New builds the client. It does not dial; the first command does.
func New(c Config) (redis.UniversalClient, error) {
	opts, err := c.UniversalOptions()
	if err != nil {
		return nil, err
	}
	return redis.NewUniversalClient(opts), nil
}

func (c Config) tlsConfig(base *tls.Config, addr string) (*tls.Config, error) {
	tc := &tls.Config{MinVersion: tls.VersionTLS12}
	if base != nil {
		tc = base.Clone()
		if tc.MinVersion == 0 {
			tc.MinVersion = tls.VersionTLS12
		}
	}
	if tc.ServerName == "" {
		if host, _, err := net.SplitHostPort(addr); err == nil {
			tc.ServerName = host
		}
	}

	roots, err := loadRoots(c.SSLCACerts, c.SSLCAPath)
	if err != nil {
		return nil, err
	}
	if roots != nil {
		tc.RootCAs = roots
	}

	if c.SSLCertFile != "" {
		cert, err := tls.LoadX509KeyPair(c.SSLCertFile, c.SSLKeyFile)
		if err != nil {
			return nil, fmt.Errorf("load redis client certificate: %w", err)
		}
		tc.Certificates = []tls.Certificate{cert}
	}

	switch strings.ToLower(c.SSLCertReqs) {
	case CertReqsNone:
		tc.InsecureSkipVerify = true
	case CertReqsOptional:
		// Chain is verified, host name is not.
		tc.InsecureSkipVerify = true
		tc.VerifyConnection = verifyChain(tc.RootCAs)
	}
	return tc, nil
}

func verifyChain(roots *x509.CertPool) func(tls.ConnectionState) error {
	return func(cs tls.ConnectionState) error {
		if len(cs.PeerCertificates) == 0 {
			return errors.New("redis server presented no certificate")
		}
		opts := x509.VerifyOptions{Roots: roots, Intermediates: x509.NewCertPool()}
		for _, ic := range cs.PeerCertificates[1:] {
			opts.Intermediates.AddCert(ic)
		}
		_, err := cs.PeerCertificates[0].Verify(opts)
		return err
	}
}

// loadRoots builds a pool from a PEM bundle and/or a directory of PEM files.
// It returns nil when neither is configured so the system pool is used.
func loadRoots(file, dir string) (*x509.CertPool, error) {
	if file == "" && dir == "" {
		return nil, nil
	}
	pool := x509.NewCertPool()
	var paths []string
	if file != "" {
		paths = append(paths, file)
	}
	if dir != "" {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("read redis CA directory: %w", err)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			switch strings.ToLower(filepath.Ext(e.Name())) {
			case ".pem", ".crt", ".cer":
				paths = append(paths, filepath.Join(dir, e.Name()))
			}
		}
	}
	added := 0
	for _, p := range paths {
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read redis CA file: %w", err)
		}
		if pool.AppendCertsFromPEM(b) {
			added++
		}
	}
	if added == 0 {
		return nil, fmt.Errorf("no PEM certificates found in %s", strings.Join(paths, ", "))
	}
	return pool, nil
}
