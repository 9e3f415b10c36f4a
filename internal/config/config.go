// Package config loads server configuration with precedence
// defaults < file < environment < CLI, resolved once at startup into a
// single typed struct. A --generate-config flag emits an annotated YAML
// template and exits.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// RegistrationMode controls how POST /api/auth/register admits new users.
type RegistrationMode string

const (
	RegistrationOpen       RegistrationMode = "open"
	RegistrationInviteOnly RegistrationMode = "invite-only"
)

// Config is the fully resolved server configuration.
type Config struct {
	Port              string           `yaml:"port"`
	BindAddr          string           `yaml:"bind_addr"`
	DataDir           string           `yaml:"data_dir"`
	RegistrationMode  RegistrationMode `yaml:"registration_mode"`
	JSONLogs          bool             `yaml:"json_logs"`
	LogLevel          string           `yaml:"log_level"`
	ServerName        string           `yaml:"server_name"`
	ServerDescription string           `yaml:"server_description"`

	BlockMaxBytes        int64  `yaml:"block_max_bytes"`
	BlockRetentionDays   int    `yaml:"block_retention_days"`
	BlockCleanupInterval int    `yaml:"block_cleanup_interval_secs"`
	TURNSharedSecret     string `yaml:"turn_shared_secret"`
	TURNAddr             string `yaml:"turn_addr"`
	VoiceHardCap         int    `yaml:"voice_hard_cap"`

	RedisAddr string `yaml:"redis_addr"`

	GossipListenAddr string `yaml:"gossip_listen_addr"`
}

func defaults() Config {
	return Config{
		Port:                 "8080",
		BindAddr:             "0.0.0.0",
		DataDir:              "./data",
		RegistrationMode:     RegistrationOpen,
		JSONLogs:             false,
		LogLevel:             "info",
		ServerName:           "united",
		ServerDescription:    "A federated, identity-first chat server.",
		BlockMaxBytes:        100 << 20,
		BlockRetentionDays:   30,
		BlockCleanupInterval: 3600,
		GossipListenAddr:     "/ip4/0.0.0.0/tcp/4001",
	}
}

// Load resolves configuration from defaults, an optional YAML file,
// environment variables (prefixed UNITED_), then CLI flags, in that order —
// each layer overrides the previous one only where it sets a value.
func Load(args []string) (Config, error) {
	cfg := defaults()

	fs := pflag.NewFlagSet("united", pflag.ContinueOnError)
	configPath := fs.String("config", "", "path to YAML configuration file")
	generate := fs.Bool("generate-config", false, "emit an annotated configuration template and exit")
	port := fs.String("port", "", "HTTP listen port")
	bindAddr := fs.String("bind-addr", "", "HTTP bind address")
	dataDir := fs.String("data-dir", "", "data directory")
	regMode := fs.String("registration-mode", "", "registration mode: open | invite-only")
	jsonLogs := fs.Bool("json-logs", false, "emit JSON logs instead of console output")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if *generate {
		tmpl, _ := yaml.Marshal(defaults())
		fmt.Println("# united configuration template — uncomment and edit as needed")
		fmt.Println(string(tmpl))
		os.Exit(0)
	}

	if *configPath != "" {
		data, err := os.ReadFile(*configPath)
		if err != nil {
			return Config{}, fmt.Errorf("config: reading %s: %w", *configPath, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parsing %s: %w", *configPath, err)
		}
	}

	applyEnv(&cfg)

	if *port != "" {
		cfg.Port = *port
	}
	if *bindAddr != "" {
		cfg.BindAddr = *bindAddr
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *regMode != "" {
		cfg.RegistrationMode = RegistrationMode(*regMode)
	}
	if *jsonLogs {
		cfg.JSONLogs = true
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("UNITED_PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("UNITED_BIND_ADDR"); v != "" {
		cfg.BindAddr = v
	}
	if v := os.Getenv("UNITED_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("UNITED_REGISTRATION_MODE"); v != "" {
		cfg.RegistrationMode = RegistrationMode(v)
	}
	if v := os.Getenv("UNITED_JSON_LOGS"); v != "" {
		cfg.JSONLogs = v == "true"
	}
	if v := os.Getenv("UNITED_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("UNITED_REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("UNITED_TURN_SHARED_SECRET"); v != "" {
		cfg.TURNSharedSecret = v
	}
	if v := os.Getenv("UNITED_TURN_ADDR"); v != "" {
		cfg.TURNAddr = v
	}
	if v := os.Getenv("UNITED_BLOCK_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BlockRetentionDays = n
		}
	}
	if v := os.Getenv("UNITED_GOSSIP_LISTEN_ADDR"); v != "" {
		cfg.GossipListenAddr = v
	}
}
