package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Bootstrap is the process-level configuration for cmd/hub: where the agent
// writes its journals, how to reach the event bus, and logging knobs. This
// is distinct from the per-session Configuration in config.go, and from the
// out-of-scope config-file-loader collaborator that supplies per-session
// Configuration values at runtime.
type Bootstrap struct {
	AgentHome      string        // default $AGENT_HOME/sessions root
	AgentBinary    string        // path or name of the agent CLI, e.g. "codex"
	NATSURL        string        // empty = use the in-memory bus
	SQLiteDSN      string        // Store backing file, e.g. "file:hub.db"
	LogLevel       string
	LogFormat      string
	ScanInterval   time.Duration
}

// LoadBootstrap reads AGENTHUB_* environment variables (and an optional
// config file named by AGENTHUB_CONFIG) into a Bootstrap value.
func LoadBootstrap() (Bootstrap, error) {
	v := viper.New()
	v.SetEnvPrefix("AGENTHUB")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("agent_home", "$HOME/.codex/sessions")
	v.SetDefault("agent_binary", "codex")
	v.SetDefault("sqlite_dsn", "file:hub.db?_foreign_keys=on")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("scan_interval", "2s")

	if cfgFile := v.GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Bootstrap{}, fmt.Errorf("config: read %s: %w", cfgFile, err)
		}
	}

	interval, err := time.ParseDuration(v.GetString("scan_interval"))
	if err != nil {
		interval = 2 * time.Second
	}

	return Bootstrap{
		AgentHome:    v.GetString("agent_home"),
		AgentBinary:  v.GetString("agent_binary"),
		NATSURL:      v.GetString("nats_url"),
		SQLiteDSN:    v.GetString("sqlite_dsn"),
		LogLevel:     v.GetString("log_level"),
		LogFormat:    v.GetString("log_format"),
		ScanInterval: interval,
	}, nil
}
