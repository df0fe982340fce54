package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/yegors/afkfleet/internal/session"
)

// Config represents the main application configuration structure
// containing all configuration sections
type Config struct {
	Server     ServerConfig     `toml:"server"`     // HTTP control surface settings
	Logging    LoggingConfig    `toml:"logging"`    // Application logging settings
	Storage    StorageConfig    `toml:"storage"`    // Event log and stats persistence
	Accounts   AccountsConfig   `toml:"accounts"`   // Account list location
	Game       GameConfig       `toml:"game"`       // Game server and protocol bridge settings
	Fleet      FleetConfig      `toml:"fleet"`      // Slot startup and housekeeping
	Reconnect  ReconnectConfig  `toml:"reconnect"`  // Reconnection policy
	AntiAFK    AntiAFKConfig    `toml:"anti_afk"`   // Idle prevention
	Sustain    SustainConfig    `toml:"sustain"`    // Automatic eating
	Threat     ThreatConfig     `toml:"threat"`     // Player proximity detection
	Protection ProtectionConfig `toml:"protection"` // Clear-and-retreat sequence
	Lobby      LobbyConfig      `toml:"lobby"`      // Lobby / teleport recovery
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Host               string   `toml:"host"` // Host address to bind to (127.0.0.1 for localhost only, 0.0.0.0 for all interfaces)
	Port               int      `toml:"port" env:"AFKFLEET_PORT"`
	APIToken           string   `toml:"api_token" env:"AFKFLEET_API_TOKEN"` // Bearer token required on /api and /ws (empty = no auth)
	CORSAllowedOrigins []string `toml:"cors_allowed_origins"`               // Origins allowed for CORS requests (use ["*"] for all origins)
	ReadTimeoutSecs    int      `toml:"read_timeout_seconds"`               // Maximum duration for reading the entire request (0 = no timeout)
	WriteTimeoutSecs   int      `toml:"write_timeout_seconds"`              // Maximum duration for writing the response (0 = no timeout)
	IdleTimeoutSecs    int      `toml:"idle_timeout_seconds"`               // Keep-alive idle timeout
}

// LoggingConfig contains application logging configuration
type LoggingConfig struct {
	Level  string `toml:"level" env:"AFKFLEET_LOG_LEVEL"` // Log level: "debug", "info", "warn", or "error"
	Format string `toml:"format"`                         // Log format: "json" (structured) or "console" (human-readable)
}

// StorageConfig contains data persistence configuration
type StorageConfig struct {
	SQLitePath       string `toml:"sqlite_path" env:"AFKFLEET_SQLITE_PATH"` // SQLite database file (empty disables persistence)
	EventsListLimit  int    `toml:"events_list_limit"`                      // Maximum events returned by the events API
	EventsRetainDays int    `toml:"events_retain_days"`                     // Events older than this are pruned at startup (0 = keep forever)
}

// AccountsConfig points at the YAML account list
type AccountsConfig struct {
	Path string `toml:"path" env:"AFKFLEET_ACCOUNTS_PATH"` // YAML file with one entry per slot
}

// GameConfig contains the target server and the protocol bridge endpoint
type GameConfig struct {
	BridgeURL       string  `toml:"bridge_url" env:"AFKFLEET_BRIDGE_URL"` // Websocket URL of the game protocol bridge
	Host            string  `toml:"host" env:"AFKFLEET_SERVER_HOST"`      // Game server host
	Port            int     `toml:"port" env:"AFKFLEET_SERVER_PORT"`      // Game server port
	Version         string  `toml:"version"`                              // Protocol version (empty = auto-detect)
	DialTimeoutSecs int     `toml:"dial_timeout_seconds"`                 // Timeout for reaching the bridge
	MoveTimeoutSecs int     `toml:"move_timeout_seconds"`                 // Upper bound for a single move command
	MaxMoveDistance float64 `toml:"max_move_distance"`                    // Largest distance a move command accepts
}

// FleetConfig controls slot startup and periodic housekeeping
type FleetConfig struct {
	AutoStart       bool `toml:"auto_start"`              // Start every slot when the process starts
	StartStaggerMs  int  `toml:"start_stagger_ms"`        // Spacing between slot starts to avoid login bursts
	StatsFlushSecs  int  `toml:"stats_flush_seconds"`     // How often slot stats are persisted
	NotifyQueueSize int  `toml:"notification_queue_size"` // Buffered notifications before new ones are dropped
}

// ReconnectConfig contains the flat-delay reconnection policy
type ReconnectConfig struct {
	Enabled                   bool     `toml:"enabled"`
	DelaySecs                 int      `toml:"delay_seconds"`                   // Fixed delay between attempts
	MaxAttempts               int      `toml:"max_attempts"`                    // Attempts before the slot is marked failed
	DuplicateSessionDelaySecs int      `toml:"duplicate_session_delay_seconds"` // One-shot delay after a duplicate-session kick
	DuplicateSignatures       []string `toml:"duplicate_signatures"`            // Kick reason substrings that mean duplicate session
	RestartDelaySecs          int      `toml:"restart_delay_seconds"`           // Pause between stop and start on restart
}

// AntiAFKConfig contains idle prevention settings
type AntiAFKConfig struct {
	Enabled      bool   `toml:"enabled"`
	IntervalSecs int    `toml:"interval_seconds"` // Time between activity pulses
	Control      string `toml:"control"`          // Control pulsed on each tick (e.g. "jump", "sneak")
}

// SustainConfig contains automatic eating settings
type SustainConfig struct {
	Enabled            bool     `toml:"enabled"`
	IntervalSecs       int      `toml:"interval_seconds"`        // Base check interval
	Threshold          int      `toml:"threshold"`               // Eat when food drops below this (0-20)
	TimeoutSecs        int      `toml:"timeout_seconds"`         // Upper bound for one equip+consume
	TimeoutBackoffSecs int      `toml:"timeout_backoff_seconds"` // Next check after a timeout
	StuckAfter         int      `toml:"stuck_after"`             // Consecutive timeouts before the stuck backoff
	StuckBackoffSecs   int      `toml:"stuck_backoff_seconds"`   // Next check once eating looks stuck
	ErrorBackoffSecs   int      `toml:"error_backoff_seconds"`   // Next check after any other failure
	Items              []string `toml:"items"`                   // Food items in order of preference (empty = built-in list)
}

// ThreatConfig contains player proximity settings
type ThreatConfig struct {
	Enabled           bool     `toml:"enabled"`
	ScanIntervalMs    int      `toml:"scan_interval_ms"`                                    // Time between proximity scans
	AlertDistance     float64  `toml:"alert_distance"`                                      // Alert when a player is this close
	EmergencyDistance float64  `toml:"emergency_distance"`                                  // Disconnect immediately when a player is this close
	AlertCooldownSecs int      `toml:"alert_cooldown_seconds"`                              // Minimum time between alerts for the same player
	BurstCount        int      `toml:"burst_count"`                                         // Alert notifications per trigger
	BurstIntervalSecs int      `toml:"burst_interval_seconds"`                              // Spacing between burst notifications
	Whitelist         []string `toml:"whitelist" env:"AFKFLEET_WHITELIST" envSeparator:","` // Players ignored by threat logic
}

// ProtectionConfig contains the clear-and-retreat sequence settings
type ProtectionConfig struct {
	Enabled           bool     `toml:"enabled"`                // Default for slots without an override
	ToolKeywords      []string `toml:"tool_keywords"`          // Inventory items containing any keyword are used as the tool
	BlockTypes        []string `toml:"block_types"`            // Blocks to clear
	Radius            float64  `toml:"radius"`                 // Search radius around the slot
	MaxBlocks         int      `toml:"max_blocks"`             // Blocks located per search
	ReserveSlots      int      `toml:"reserve_slots"`          // Stop when free inventory slots drop to this
	InventorySlots    int      `toml:"inventory_slots"`        // Total inventory slots
	ActionDelayMs     int      `toml:"action_delay_ms"`        // Pause between actions (0 = none)
	ActionTimeoutSecs int      `toml:"action_timeout_seconds"` // Upper bound for a single action
}

// LobbyConfig contains lobby detection and recovery settings
type LobbyConfig struct {
	Enabled               bool     `toml:"enabled"`
	DisplacementThreshold float64  `toml:"displacement_threshold"` // Jump from home that counts as relocation
	RecoveryThreshold     float64  `toml:"recovery_threshold"`     // Distance from home that counts as recovered
	GraceSecs             int      `toml:"grace_seconds"`          // Wait before the first return command
	RetryIntervalSecs     int      `toml:"retry_interval_seconds"` // Spacing between return commands
	ReturnCommand         string   `toml:"return_command"`         // Chat command that returns the slot home
	ChatPatterns          []string `toml:"chat_patterns"`          // Regular expressions that announce a teleport
	ChatCheckDelayMs      int      `toml:"chat_check_delay_ms"`    // Wait after a teleport notice before checking position
}

// Default returns the configuration used for keys missing from the file
func Default() *Config {
	p := session.DefaultPolicy()
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8090,
			ReadTimeoutSecs: 15,
			IdleTimeoutSecs: 60,
		},
		Logging: LoggingConfig{Level: "info", Format: "console"},
		Storage: StorageConfig{
			SQLitePath:      "data/afkfleet.db",
			EventsListLimit: 100,
		},
		Accounts: AccountsConfig{Path: "configs/accounts.yaml"},
		Game: GameConfig{
			BridgeURL:       "ws://127.0.0.1:8765/bridge",
			Port:            p.Port,
			DialTimeoutSecs: 10,
			MoveTimeoutSecs: secs(p.Move.Timeout),
			MaxMoveDistance: p.Move.MaxDistance,
		},
		Fleet: FleetConfig{
			AutoStart:       true,
			StartStaggerMs:  2000,
			StatsFlushSecs:  60,
			NotifyQueueSize: 256,
		},
		Reconnect: ReconnectConfig{
			Enabled:                   p.Reconnect.Enabled,
			DelaySecs:                 secs(p.Reconnect.Delay),
			MaxAttempts:               p.Reconnect.MaxAttempts,
			DuplicateSessionDelaySecs: secs(p.Reconnect.DuplicateSessionDelay),
			DuplicateSignatures:       p.Reconnect.DuplicateSignatures,
			RestartDelaySecs:          secs(p.Reconnect.RestartDelay),
		},
		AntiAFK: AntiAFKConfig{
			Enabled:      p.AntiAFK.Enabled,
			IntervalSecs: secs(p.AntiAFK.Interval),
			Control:      p.AntiAFK.Control,
		},
		Sustain: SustainConfig{
			Enabled:            p.Sustain.Enabled,
			IntervalSecs:       secs(p.Sustain.Interval),
			Threshold:          p.Sustain.Threshold,
			TimeoutSecs:        secs(p.Sustain.Timeout),
			TimeoutBackoffSecs: secs(p.Sustain.TimeoutBackoff),
			StuckAfter:         p.Sustain.StuckAfter,
			StuckBackoffSecs:   secs(p.Sustain.StuckBackoff),
			ErrorBackoffSecs:   secs(p.Sustain.ErrorBackoff),
		},
		Threat: ThreatConfig{
			Enabled:           p.Threat.Enabled,
			ScanIntervalMs:    int(p.Threat.ScanInterval / time.Millisecond),
			AlertDistance:     p.Threat.AlertDistance,
			EmergencyDistance: p.Threat.EmergencyDistance,
			AlertCooldownSecs: secs(p.Threat.AlertCooldown),
			BurstCount:        p.Threat.BurstCount,
			BurstIntervalSecs: secs(p.Threat.BurstInterval),
		},
		Protection: ProtectionConfig{
			Enabled:           p.Protection.Enabled,
			ToolKeywords:      p.Protection.ToolKeywords,
			BlockTypes:        p.Protection.BlockTypes,
			Radius:            p.Protection.Radius,
			MaxBlocks:         p.Protection.MaxBlocks,
			ReserveSlots:      p.Protection.ReserveSlots,
			InventorySlots:    p.Protection.InventorySlots,
			ActionDelayMs:     int(p.Protection.ActionDelay / time.Millisecond),
			ActionTimeoutSecs: secs(p.Protection.ActionTimeout),
		},
		Lobby: LobbyConfig{
			Enabled:               p.Lobby.Enabled,
			DisplacementThreshold: p.Lobby.DisplacementThreshold,
			RecoveryThreshold:     p.Lobby.RecoveryThreshold,
			GraceSecs:             secs(p.Lobby.Grace),
			RetryIntervalSecs:     secs(p.Lobby.RetryInterval),
			ReturnCommand:         p.Lobby.ReturnCommand,
			ChatPatterns:          p.Lobby.ChatPatterns,
			ChatCheckDelayMs:      int(p.Lobby.ChatCheckDelay / time.Millisecond),
		},
	}
}

func secs(d time.Duration) int { return int(d / time.Second) }

// Load loads the configuration from the specified file path. Keys missing
// from the file keep their defaults; AFKFLEET_* environment variables win.
func Load(path string) (*Config, error) {
	config := Default()

	// Check if the file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	if _, err := toml.DecodeFile(path, config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	if err := env.Parse(config); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	return config, nil
}

// LoadWithFallback loads the configuration by checking multiple locations in order of preference
func LoadWithFallback(preferredPath string) (*Config, error) {
	// List of paths to check in order of preference
	searchPaths := []string{
		preferredPath,         // User-specified path (if provided)
		"configs/config.toml", // Default location in configs/ folder
		"config.toml",         // Root directory
	}

	// Remove duplicates while preserving order
	uniquePaths := make([]string, 0, len(searchPaths))
	seen := make(map[string]bool)
	for _, path := range searchPaths {
		if path != "" && !seen[path] {
			uniquePaths = append(uniquePaths, path)
			seen[path] = true
		}
	}

	var lastErr error
	for _, path := range uniquePaths {
		if _, err := os.Stat(path); err == nil {
			config, err := Load(path)
			if err != nil {
				lastErr = fmt.Errorf("failed to load config from %s: %w", path, err)
				continue
			}
			return config, nil
		}
		lastErr = fmt.Errorf("config file not found: %s", path)
	}

	return nil, fmt.Errorf("config file not found in any of the expected locations: %v. Last error: %w", uniquePaths, lastErr)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Game.Host == "" {
		return fmt.Errorf("game.host is required")
	}
	if c.Game.Port <= 0 || c.Game.Port > 65535 {
		return fmt.Errorf("invalid game port: %d", c.Game.Port)
	}
	if c.Game.BridgeURL == "" {
		return fmt.Errorf("game.bridge_url is required")
	}
	if c.Accounts.Path == "" {
		return fmt.Errorf("accounts.path is required")
	}

	// Set defaults for values that must be positive
	if c.Fleet.NotifyQueueSize <= 0 {
		c.Fleet.NotifyQueueSize = 256
	}
	if c.Storage.EventsListLimit <= 0 {
		c.Storage.EventsListLimit = 100
	}
	if len(c.Sustain.Items) == 0 {
		c.Sustain.Items = session.DefaultFoods
	}

	if c.Reconnect.MaxAttempts < 0 {
		return fmt.Errorf("invalid reconnect max_attempts: %d (must be >= 0)", c.Reconnect.MaxAttempts)
	}
	if c.Reconnect.Enabled && c.Reconnect.DelaySecs <= 0 {
		return fmt.Errorf("reconnect delay_seconds must be positive")
	}
	if c.AntiAFK.Enabled && c.AntiAFK.IntervalSecs <= 0 {
		return fmt.Errorf("anti_afk interval_seconds must be positive")
	}
	if c.Sustain.Enabled {
		if c.Sustain.IntervalSecs <= 0 || c.Sustain.TimeoutSecs <= 0 {
			return fmt.Errorf("sustain interval_seconds and timeout_seconds must be positive")
		}
		if c.Sustain.Threshold < 0 || c.Sustain.Threshold > 20 {
			return fmt.Errorf("invalid sustain threshold: %d (must be 0-20)", c.Sustain.Threshold)
		}
		if c.Sustain.StuckAfter <= 0 {
			return fmt.Errorf("sustain stuck_after must be positive")
		}
		if c.Sustain.TimeoutBackoffSecs <= 0 || c.Sustain.StuckBackoffSecs <= 0 || c.Sustain.ErrorBackoffSecs <= 0 {
			return fmt.Errorf("sustain backoff seconds must be positive")
		}
	}
	if c.Threat.Enabled {
		if c.Threat.ScanIntervalMs <= 0 {
			return fmt.Errorf("threat scan_interval_ms must be positive")
		}
		if c.Threat.EmergencyDistance < 0 || c.Threat.AlertDistance < c.Threat.EmergencyDistance {
			return fmt.Errorf("threat distances must satisfy 0 <= emergency_distance <= alert_distance")
		}
		if c.Threat.BurstCount <= 0 {
			return fmt.Errorf("threat burst_count must be positive")
		}
		if c.Threat.BurstIntervalSecs <= 0 {
			return fmt.Errorf("threat burst_interval_seconds must be positive")
		}
	}
	if c.Protection.InventorySlots <= 0 || c.Protection.ReserveSlots < 0 || c.Protection.ReserveSlots >= c.Protection.InventorySlots {
		return fmt.Errorf("invalid protection inventory_slots/reserve_slots: %d/%d", c.Protection.InventorySlots, c.Protection.ReserveSlots)
	}
	if c.Protection.ActionTimeoutSecs <= 0 {
		return fmt.Errorf("protection action_timeout_seconds must be positive")
	}
	if c.Protection.ActionDelayMs < 0 {
		return fmt.Errorf("protection action_delay_ms must not be negative")
	}
	if len(c.Protection.BlockTypes) == 0 {
		return fmt.Errorf("protection block_types must not be empty")
	}
	if c.Lobby.Enabled {
		if c.Lobby.RecoveryThreshold >= c.Lobby.DisplacementThreshold {
			return fmt.Errorf("lobby recovery_threshold must be below displacement_threshold")
		}
		if c.Lobby.RetryIntervalSecs <= 0 {
			return fmt.Errorf("lobby retry_interval_seconds must be positive")
		}
		if c.Lobby.ReturnCommand == "" {
			return fmt.Errorf("lobby return_command is required")
		}
		for _, pat := range c.Lobby.ChatPatterns {
			if _, err := regexp.Compile(pat); err != nil {
				return fmt.Errorf("invalid lobby chat pattern %q: %w", pat, err)
			}
		}
	}

	return nil
}

// Policy converts the behaviour sections into the per-slot policy snapshot
func (c *Config) Policy() session.Policy {
	return session.Policy{
		Host:    c.Game.Host,
		Port:    c.Game.Port,
		Version: c.Game.Version,
		Reconnect: session.ReconnectPolicy{
			Enabled:               c.Reconnect.Enabled,
			Delay:                 seconds(c.Reconnect.DelaySecs),
			MaxAttempts:           c.Reconnect.MaxAttempts,
			DuplicateSessionDelay: seconds(c.Reconnect.DuplicateSessionDelaySecs),
			DuplicateSignatures:   c.Reconnect.DuplicateSignatures,
			RestartDelay:          seconds(c.Reconnect.RestartDelaySecs),
		},
		AntiAFK: session.AntiAFKPolicy{
			Enabled:  c.AntiAFK.Enabled,
			Interval: seconds(c.AntiAFK.IntervalSecs),
			Control:  c.AntiAFK.Control,
		},
		Sustain: session.SustainPolicy{
			Enabled:        c.Sustain.Enabled,
			Interval:       seconds(c.Sustain.IntervalSecs),
			Threshold:      c.Sustain.Threshold,
			Timeout:        seconds(c.Sustain.TimeoutSecs),
			TimeoutBackoff: seconds(c.Sustain.TimeoutBackoffSecs),
			StuckAfter:     c.Sustain.StuckAfter,
			StuckBackoff:   seconds(c.Sustain.StuckBackoffSecs),
			ErrorBackoff:   seconds(c.Sustain.ErrorBackoffSecs),
			Items:          c.Sustain.Items,
		},
		Threat: session.ThreatPolicy{
			Enabled:           c.Threat.Enabled,
			ScanInterval:      millis(c.Threat.ScanIntervalMs),
			AlertDistance:     c.Threat.AlertDistance,
			EmergencyDistance: c.Threat.EmergencyDistance,
			AlertCooldown:     seconds(c.Threat.AlertCooldownSecs),
			BurstCount:        c.Threat.BurstCount,
			BurstInterval:     seconds(c.Threat.BurstIntervalSecs),
			Whitelist:         c.Threat.Whitelist,
		},
		Protection: session.ProtectionPolicy{
			Enabled:        c.Protection.Enabled,
			ToolKeywords:   c.Protection.ToolKeywords,
			BlockTypes:     c.Protection.BlockTypes,
			Radius:         c.Protection.Radius,
			MaxBlocks:      c.Protection.MaxBlocks,
			ReserveSlots:   c.Protection.ReserveSlots,
			InventorySlots: c.Protection.InventorySlots,
			ActionDelay:    millis(c.Protection.ActionDelayMs),
			ActionTimeout:  seconds(c.Protection.ActionTimeoutSecs),
		},
		Lobby: session.LobbyPolicy{
			Enabled:               c.Lobby.Enabled,
			DisplacementThreshold: c.Lobby.DisplacementThreshold,
			RecoveryThreshold:     c.Lobby.RecoveryThreshold,
			Grace:                 seconds(c.Lobby.GraceSecs),
			RetryInterval:         seconds(c.Lobby.RetryIntervalSecs),
			ReturnCommand:         c.Lobby.ReturnCommand,
			ChatPatterns:          c.Lobby.ChatPatterns,
			ChatCheckDelay:        millis(c.Lobby.ChatCheckDelayMs),
		},
		Move: session.MovePolicy{
			Timeout:      seconds(c.Game.MoveTimeoutSecs),
			PollInterval: 100 * time.Millisecond,
			MaxDistance:  c.Game.MaxMoveDistance,
		},
	}
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }
func millis(n int) time.Duration  { return time.Duration(n) * time.Millisecond }
