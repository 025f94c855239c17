// Package config loads the YAML configuration for the center and the DC
// agent. Every key has an MFASRV_* environment override so the binaries can
// run flag-less in containers.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server Server `yaml:"server"`
	Store  Store  `yaml:"store"`
	Keys   Keys   `yaml:"keys"`
	TLS    TLS    `yaml:"tls"`
	CA     CA     `yaml:"ca"`
	MFA    MFA    `yaml:"mfa"`
	HA     HA     `yaml:"ha"`
	Backup Backup `yaml:"backup"`
	Agent  Agent  `yaml:"agent"`
}

type Server struct {
	GRPCBind       string `yaml:"grpc_bind"`
	RESTBind       string `yaml:"rest_bind"`
	PrometheusBind string `yaml:"prometheus_bind"`
	Env            string `yaml:"env"`
}

type Store struct {
	// DSN is either a SQLite file path or a postgres:// connection string.
	DSN string `yaml:"dsn"`
}

type Keys struct {
	// MasterKey is a base64-encoded 32-byte key. The token MAC key and the
	// enrollment secret-box key are derived from it, never used raw.
	MasterKey string `yaml:"master_key"`
}

type TLS struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`
}

type CA struct {
	Dir string `yaml:"dir"`
}

type MFA struct {
	ChallengeTTL    time.Duration `yaml:"challenge_ttl"`
	MaxAttempts     int           `yaml:"max_attempts"`
	SessionTTL      time.Duration `yaml:"session_ttl"`
	TOTPIssuer      string        `yaml:"totp_issuer"`
	OTPCodeTTL      time.Duration `yaml:"otp_code_ttl"`
	DefaultFailover string        `yaml:"default_failover"`
}

type HA struct {
	Enabled       bool          `yaml:"enabled"`
	InstanceID    string        `yaml:"instance_id"`
	LeaseDuration time.Duration `yaml:"lease_duration"`
	RenewInterval time.Duration `yaml:"renew_interval"`
	RedisAddr     string        `yaml:"redis_addr"`
}

type Backup struct {
	Dir       string        `yaml:"dir"`
	Interval  time.Duration `yaml:"interval"`
	Retention int           `yaml:"retention"`
}

// Agent holds the DC-agent side of the configuration.
type Agent struct {
	ID                string        `yaml:"id"`
	Hostname          string        `yaml:"hostname"`
	Type              string        `yaml:"type"`
	CenterAddr        string        `yaml:"center_addr"`
	CacheDSN          string        `yaml:"cache_dsn"`
	IPCSocket         string        `yaml:"ipc_socket"`
	GossipBind        string        `yaml:"gossip_bind"`
	GossipPeers       []string      `yaml:"gossip_peers"`
	PrometheusBind    string        `yaml:"prometheus_bind"`
	FailoverMode      string        `yaml:"failover_mode"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	CertDir           string        `yaml:"cert_dir"`
}

// Load reads the config file, then applies environment overrides and
// defaults. A missing file is not an error when MFASRV_* variables provide
// the required values.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("open config: %w", err)
			}
		} else {
			defer f.Close()
			if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	envStr(&c.Server.GRPCBind, "MFASRV_GRPC_BIND")
	envStr(&c.Server.RESTBind, "MFASRV_REST_BIND")
	envStr(&c.Server.PrometheusBind, "MFASRV_PROM_BIND")
	envStr(&c.Server.Env, "MFASRV_ENV")
	envStr(&c.Store.DSN, "MFASRV_STORE_DSN")
	envStr(&c.Keys.MasterKey, "MFASRV_MASTER_KEY")
	envStr(&c.TLS.CertFile, "MFASRV_TLS_CERT")
	envStr(&c.TLS.KeyFile, "MFASRV_TLS_KEY")
	envStr(&c.TLS.CAFile, "MFASRV_TLS_CA")
	envStr(&c.CA.Dir, "MFASRV_CA_DIR")
	envStr(&c.Backup.Dir, "MFASRV_BACKUP_DIR")
	envBool(&c.HA.Enabled, "MFASRV_HA_ENABLED")
	envStr(&c.HA.InstanceID, "MFASRV_INSTANCE_ID")
	envStr(&c.HA.RedisAddr, "MFASRV_REDIS_ADDR")
	envStr(&c.MFA.DefaultFailover, "MFASRV_FAILOVER_MODE")

	envStr(&c.Agent.ID, "MFASRV_AGENT_ID")
	envStr(&c.Agent.Hostname, "MFASRV_AGENT_HOSTNAME")
	envStr(&c.Agent.CenterAddr, "MFASRV_CENTER_ADDR")
	envStr(&c.Agent.CacheDSN, "MFASRV_AGENT_CACHE_DSN")
	envStr(&c.Agent.IPCSocket, "MFASRV_AGENT_IPC_SOCKET")
	envStr(&c.Agent.GossipBind, "MFASRV_GOSSIP_BIND")
	envStr(&c.Agent.FailoverMode, "MFASRV_FAILOVER_MODE")
	envStr(&c.Agent.CertDir, "MFASRV_AGENT_CERT_DIR")
	if v := os.Getenv("MFASRV_GOSSIP_PEERS"); v != "" {
		c.Agent.GossipPeers = strings.Split(v, ",")
	}
	if v := os.Getenv("MFASRV_HEARTBEAT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Agent.HeartbeatInterval = d
		}
	}
}

func (c *Config) applyDefaults() {
	def(&c.Server.GRPCBind, ":8443")
	def(&c.Server.RESTBind, ":8080")
	def(&c.Server.PrometheusBind, ":9090")
	def(&c.Server.Env, "production")
	def(&c.Store.DSN, "mfasrv.db")
	def(&c.CA.Dir, "ca")
	def(&c.Backup.Dir, "backups")
	if c.Backup.Interval == 0 {
		c.Backup.Interval = 6 * time.Hour
	}
	if c.Backup.Retention == 0 {
		c.Backup.Retention = 10
	}
	if c.MFA.ChallengeTTL == 0 {
		c.MFA.ChallengeTTL = 5 * time.Minute
	}
	if c.MFA.MaxAttempts == 0 {
		c.MFA.MaxAttempts = 3
	}
	if c.MFA.SessionTTL == 0 {
		c.MFA.SessionTTL = 8 * time.Hour
	}
	if c.MFA.OTPCodeTTL == 0 {
		c.MFA.OTPCodeTTL = 5 * time.Minute
	}
	def(&c.MFA.TOTPIssuer, "mfasrv")
	def(&c.MFA.DefaultFailover, "fail_close")
	if c.HA.LeaseDuration == 0 {
		c.HA.LeaseDuration = 30 * time.Second
	}
	if c.HA.RenewInterval == 0 {
		c.HA.RenewInterval = 10 * time.Second
	}
	if c.HA.InstanceID == "" {
		host, _ := os.Hostname()
		c.HA.InstanceID = host
	}

	def(&c.Agent.Type, "dc")
	def(&c.Agent.CacheDSN, "mfaagent-cache.db")
	def(&c.Agent.IPCSocket, "/run/mfasrv/agent.sock")
	def(&c.Agent.GossipBind, ":8444")
	def(&c.Agent.PrometheusBind, ":9091")
	def(&c.Agent.FailoverMode, "fail_close")
	def(&c.Agent.CertDir, "agent-certs")
	if c.Agent.HeartbeatInterval == 0 {
		c.Agent.HeartbeatInterval = 30 * time.Second
	}
	if c.Agent.Hostname == "" {
		host, _ := os.Hostname()
		c.Agent.Hostname = host
	}
}

// Validate checks the keys the center cannot run without.
func (c *Config) Validate() error {
	if c.Keys.MasterKey == "" {
		return fmt.Errorf("keys.master_key (MFASRV_MASTER_KEY) is required")
	}
	switch c.MFA.DefaultFailover {
	case "fail_open", "fail_close", "cached_only":
	default:
		return fmt.Errorf("invalid default failover mode %q", c.MFA.DefaultFailover)
	}
	return nil
}

func envStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func def(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}
