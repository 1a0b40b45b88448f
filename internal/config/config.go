package config

// ServerConfig holds configuration for the Harvest daemon.
type ServerConfig struct {
	Addr      string // Listen address (default ":8080")
	LogLevel  string // Log level: debug, info, warn, error
	LogFormat string // Log format: text, json
	DBPath    string // SQLite database path (default ~/.harvest/harvest.db, ":memory:" for testing)
	PluginDir string // Directory scanned for plugin manifests (*.yaml)
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:      ":8080",
		LogLevel:  "info",
		LogFormat: "text",
		PluginDir: "plugins",
	}
}
