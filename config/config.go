package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	"gopkg.in/yaml.v3"
)

const (
	envConfigPath = "CONFIG_PATH"
	envJWTSecret  = "SIGNALING_JWT_SECRET"

	defaultPath = "./config/config.yaml"
)

type HTTP struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// GRPC.Addr empty disables the census listener.
type GRPC struct {
	Addr string `yaml:"addr"`
}

type Logging struct {
	Env       string `yaml:"env"`       // dev|stage|prod
	Service   string `yaml:"service"`   // signaling-service
	Version   string `yaml:"version"`   // v0.1.0
	Backend   string `yaml:"backend"`   // std|zap
	AddSource bool   `yaml:"addSource"` // false|true
	Debug     bool   `yaml:"debug"`     // false|true
}

// Postgres.DSN empty disables audit persistence.
type Postgres struct {
	DSN               string        `yaml:"dsn"`
	MaxConns          int32         `yaml:"maxConns"`
	MinConns          int32         `yaml:"minConns"`
	MaxConnLifetime   time.Duration `yaml:"maxConnLifetime"`
	MaxConnIdleTime   time.Duration `yaml:"maxConnIdleTime"`
	HealthCheckPeriod time.Duration `yaml:"healthCheckPeriod"`
	ApplicationName   string        `yaml:"applicationName"`
	SlowQuery         time.Duration `yaml:"slowQuery"`
}

func (p Postgres) Enabled() bool { return strings.TrimSpace(p.DSN) != "" }

func (p Postgres) Validate() error {
	if p.MinConns < 0 || p.MaxConns < 0 {
		return errors.New("postgres.minConns and postgres.maxConns must be >= 0")
	}
	if p.MaxConns > 0 && p.MinConns > p.MaxConns {
		return errors.New("postgres.minConns must be <= postgres.maxConns")
	}

	return nil
}

type JWT struct {
	Alg           string        `yaml:"alg"`           // HS256|RS256
	Secret        string        `yaml:"secret"`        // HS256
	PublicKeyPath string        `yaml:"publicKeyPath"` // RS256
	Issuer        string        `yaml:"issuer"`        // optional
	Audience      string        `yaml:"audience"`      // optional
	ClockSkew     time.Duration `yaml:"clockSkew"`     // e.g. 30s
	AccessTTL     time.Duration `yaml:"accessTTL"`     // dev tokens only
}

func (j *JWT) Validate() error {
	j.Alg = strings.ToUpper(strings.TrimSpace(j.Alg))
	if j.Alg == "" {
		j.Alg = "HS256"
	}
	switch j.Alg {
	case "HS256":
		if j.Secret == "" {
			return errors.New("security.jwt.secret is required for HS256")
		}
	case "RS256":
		if j.PublicKeyPath == "" {
			return errors.New("security.jwt.publicKeyPath is required for RS256")
		}
	default:
		return fmt.Errorf("security.jwt.alg %q is not supported", j.Alg)
	}
	if j.ClockSkew < 0 || j.ClockSkew > time.Minute {
		return errors.New("security.jwt.clockSkew must be in [0..1m]")
	}
	if j.AccessTTL < 0 {
		return errors.New("security.jwt.accessTTL must be >= 0")
	}
	if j.AccessTTL == 0 {
		j.AccessTTL = time.Hour
	}

	return nil
}

type Security struct {
	JWT JWT `yaml:"jwt"`
}

type Signaling struct {
	PingInterval      time.Duration `yaml:"pingInterval"`
	WriteTimeout      time.Duration `yaml:"writeTimeout"`
	MaxMessageBytes   int64         `yaml:"maxMessageBytes"`
	SendQueue         int           `yaml:"sendQueue"`
	MessagesPerSecond float64       `yaml:"messagesPerSecond"`
	Burst             int           `yaml:"burst"`
	AllowedOrigins    []string      `yaml:"allowedOrigins"`
}

type Census struct {
	RequireAuth bool `yaml:"requireAuth"`
}

type ICEServer struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username"`
	Credential string   `yaml:"credential"`
}

type ICE struct {
	Servers []ICEServer `yaml:"servers"`
}

// WebRTC returns the servers in the shape browsers feed to RTCPeerConnection.
func (i ICE) WebRTC() []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(i.Servers))
	for _, s := range i.Servers {
		srv := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			srv.Credential = s.Credential
		}
		out = append(out, srv)
	}
	return out
}

type Audit struct {
	QueueSize int `yaml:"queueSize"`
	Workers   int `yaml:"workers"`
}

type Config struct {
	HTTP      HTTP      `yaml:"http"`
	GRPC      GRPC      `yaml:"grpc"`
	Logging   Logging   `yaml:"logging"`
	Postgres  Postgres  `yaml:"postgres"`
	Security  Security  `yaml:"security"`
	Signaling Signaling `yaml:"signaling"`
	Census    Census    `yaml:"census"`
	ICE       ICE       `yaml:"ice"`
	Audit     Audit     `yaml:"audit"`
}

// LoadConfig reads CONFIG_PATH (default ./config/config.yaml), applies env
// overrides, validates and fills defaults.
func LoadConfig() (*Config, error) {
	path := os.Getenv(envConfigPath)
	if path == "" {
		path = defaultPath
	}

	return LoadFile(path)
}

func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if s := os.Getenv(envJWTSecret); s != "" {
		cfg.Security.JWT.Secret = s
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.HTTP.Addr == "" {
		return errors.New("http.addr is required")
	}
	if err := c.Security.JWT.Validate(); err != nil {
		return err
	}
	if err := c.Postgres.Validate(); err != nil {
		return err
	}
	for i, s := range c.ICE.Servers {
		if len(s.URLs) == 0 {
			return fmt.Errorf("ice.servers[%d].urls is required", i)
		}
	}

	// defaults
	c.HTTP.ReadTimeout = durationOr(c.HTTP.ReadTimeout, 10*time.Second)
	c.HTTP.IdleTimeout = durationOr(c.HTTP.IdleTimeout, 60*time.Second)
	// writeTimeout 0 stays 0: hijacked websocket conns manage their own deadlines

	if c.Logging.Service == "" {
		c.Logging.Service = "signaling-service"
	}
	if c.Logging.Env == "" {
		c.Logging.Env = "dev"
	}
	if c.Logging.Version == "" {
		c.Logging.Version = "v0.1.0"
	}
	if c.Logging.Backend == "" {
		c.Logging.Backend = "std"
	}

	s := &c.Signaling
	s.PingInterval = durationOr(s.PingInterval, 15*time.Second)
	s.WriteTimeout = durationOr(s.WriteTimeout, 5*time.Second)
	if s.MaxMessageBytes <= 0 {
		s.MaxMessageBytes = 64 << 10
	}
	if s.SendQueue <= 0 {
		s.SendQueue = 64
	}
	if s.MessagesPerSecond < 0 {
		return errors.New("signaling.messagesPerSecond must be >= 0")
	}
	if s.Burst <= 0 {
		s.Burst = 20
	}

	if c.Audit.QueueSize <= 0 {
		c.Audit.QueueSize = 1024
	}
	if c.Audit.Workers <= 0 {
		c.Audit.Workers = 2
	}

	return nil
}

func durationOr(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}
