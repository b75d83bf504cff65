package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/notesync/notesync/libs/log"
)

// NOTE: Most of the structs & relevant comments + the default configuration
// options were used to manually generate the config.toml. Please reflect any
// changes made here in the defaultConfigTemplate constant in config/toml.go
var (
	DefaultNoteSyncDir = ".notesync"
	defaultConfigDir   = "config"
	defaultDataDir     = "data"

	defaultConfigFileName     = "config.toml"
	defaultRepositoryFileName = "repository_config.json"

	defaultConfigFilePath     = filepath.Join(defaultConfigDir, defaultConfigFileName)
	defaultRepositoryFilePath = filepath.Join(defaultDataDir, defaultRepositoryFileName)
	defaultPendingDir         = "p2p_pending"
)

// Config defines the top level configuration for a notesync node.
type Config struct {
	// Top level options use an anonymous struct
	BaseConfig `mapstructure:",squash"`

	// Options for services
	P2P             *P2PConfig             `mapstructure:"p2p"`
	Discovery       *DiscoveryConfig       `mapstructure:"discovery"`
	Coordinator     *CoordinatorConfig     `mapstructure:"coordinator"`
	API             *APIConfig             `mapstructure:"api"`
	Instrumentation *InstrumentationConfig `mapstructure:"instrumentation"`
}

// DefaultConfig returns a default configuration for a notesync node.
func DefaultConfig() *Config {
	return &Config{
		BaseConfig:      DefaultBaseConfig(),
		P2P:             DefaultP2PConfig(),
		Discovery:       DefaultDiscoveryConfig(),
		Coordinator:     DefaultCoordinatorConfig(),
		API:             DefaultAPIConfig(),
		Instrumentation: DefaultInstrumentationConfig(),
	}
}

// TestConfig returns a configuration that can be used for testing.
func TestConfig() *Config {
	return &Config{
		BaseConfig:      TestBaseConfig(),
		P2P:             TestP2PConfig(),
		Discovery:       TestDiscoveryConfig(),
		Coordinator:     DefaultCoordinatorConfig(),
		API:             DefaultAPIConfig(),
		Instrumentation: TestInstrumentationConfig(),
	}
}

// SetRoot sets the RootDir for all Config structs.
func (cfg *Config) SetRoot(root string) *Config {
	cfg.BaseConfig.RootDir = root
	return cfg
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *Config) ValidateBasic() error {
	if err := cfg.BaseConfig.ValidateBasic(); err != nil {
		return err
	}
	if err := cfg.P2P.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [p2p] section: %w", err)
	}
	if err := cfg.Discovery.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [discovery] section: %w", err)
	}
	if err := cfg.Coordinator.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [coordinator] section: %w", err)
	}
	if err := cfg.Instrumentation.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [instrumentation] section: %w", err)
	}
	return nil
}

//-----------------------------------------------------------------------------
// BaseConfig

// BaseConfig defines the base configuration for a notesync node.
type BaseConfig struct {
	// The root directory for all data.
	// This should be set in viper so it can unmarshal into this struct
	RootDir string `mapstructure:"home"`

	// A custom human readable name for this node; used as the host part of
	// the advertised service name.
	Moniker string `mapstructure:"moniker"`

	// Output level for logging: debug, info, error
	LogLevel string `mapstructure:"log-level"`

	// Output format: 'plain' (colored text) or 'json'
	LogFormat string `mapstructure:"log-format"`

	// Path to the JSON file holding the configured repositories. Empty keeps
	// the list in memory only.
	RepositoryFile string `mapstructure:"repository-file"`

	// Directory that repositories learned from peers are placed in until
	// the operator relocates them.
	PendingDir string `mapstructure:"pending-dir"`
}

// DefaultBaseConfig returns a default base configuration.
func DefaultBaseConfig() BaseConfig {
	return BaseConfig{
		Moniker:        defaultMoniker,
		LogLevel:       log.LogLevelInfo,
		LogFormat:      log.LogFormatPlain,
		RepositoryFile: defaultRepositoryFilePath,
		PendingDir:     defaultPendingDir,
	}
}

// TestBaseConfig returns a base configuration for testing.
func TestBaseConfig() BaseConfig {
	cfg := DefaultBaseConfig()
	cfg.Moniker = "test"
	cfg.LogLevel = log.LogLevelDebug
	return cfg
}

// RepositoryFilePath returns the full path to the repository list, or ""
// when it is kept in memory.
func (cfg BaseConfig) RepositoryFilePath() string {
	if cfg.RepositoryFile == "" {
		return ""
	}
	return rootify(cfg.RepositoryFile, cfg.RootDir)
}

// PendingDirPath returns the full path to the pending directory.
func (cfg BaseConfig) PendingDirPath() string {
	return rootify(cfg.PendingDir, cfg.RootDir)
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg BaseConfig) ValidateBasic() error {
	switch cfg.LogFormat {
	case log.LogFormatPlain, log.LogFormatText, log.LogFormatJSON:
	default:
		return errors.New("unknown log format (must be 'plain', 'text' or 'json')")
	}
	switch cfg.LogLevel {
	case log.LogLevelDebug, log.LogLevelInfo, log.LogLevelWarn, log.LogLevelError:
	default:
		return fmt.Errorf("unknown log level %q (must be one of debug, info, warn, error)", cfg.LogLevel)
	}
	if cfg.PendingDir == "" {
		return errors.New("pending-dir can't be empty")
	}
	return nil
}

//-----------------------------------------------------------------------------
// P2PConfig

// P2PConfig defines the configuration options for peer sessions and the
// HTTP listener they share with the admin API.
type P2PConfig struct { //nolint: maligned
	// Address to listen for incoming connections, host:port
	ListenAddress string `mapstructure:"laddr"`

	// Path peer sessions are served on
	EndpointPath string `mapstructure:"endpoint-path"`

	// Comma separated list of host:port peers to add to the manual peer
	// list and dial once at startup
	PersistentPeers string `mapstructure:"persistent-peers"`

	// Time to wait for an outbound session to be established
	DialTimeout time.Duration `mapstructure:"dial-timeout"`

	// Number of outbound frames that can be queued per session
	SendQueueSize int `mapstructure:"send-queue-size"`

	// Maximum size of an inbound frame, in bytes
	MaxMessageSize int64 `mapstructure:"max-message-size"`
}

// DefaultP2PConfig returns a default configuration for the peer-to-peer layer.
func DefaultP2PConfig() *P2PConfig {
	return &P2PConfig{
		ListenAddress:  "0.0.0.0:8080",
		EndpointPath:   "/p2p",
		DialTimeout:    10 * time.Second,
		SendQueueSize:  64,
		MaxMessageSize: 1 << 20, // 1 MB
	}
}

// TestP2PConfig returns a configuration for testing the peer-to-peer layer.
func TestP2PConfig() *P2PConfig {
	cfg := DefaultP2PConfig()
	cfg.ListenAddress = "127.0.0.1:0"
	cfg.DialTimeout = time.Second
	return cfg
}

// Port returns the port of ListenAddress.
func (cfg *P2PConfig) Port() (int, error) {
	_, port, err := net.SplitHostPort(cfg.ListenAddress)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(port)
}

// PersistentPeerList splits PersistentPeers into addresses.
func (cfg *P2PConfig) PersistentPeerList() []string {
	var out []string
	for _, p := range strings.Split(cfg.PersistentPeers, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *P2PConfig) ValidateBasic() error {
	if _, err := cfg.Port(); err != nil {
		return fmt.Errorf("invalid laddr %q: %w", cfg.ListenAddress, err)
	}
	if !strings.HasPrefix(cfg.EndpointPath, "/") {
		return errors.New("endpoint-path must start with '/'")
	}
	if cfg.DialTimeout < 0 {
		return errors.New("dial-timeout can't be negative")
	}
	if cfg.SendQueueSize < 0 {
		return errors.New("send-queue-size can't be negative")
	}
	if cfg.MaxMessageSize < 0 {
		return errors.New("max-message-size can't be negative")
	}
	for _, p := range cfg.PersistentPeerList() {
		if _, _, err := net.SplitHostPort(p); err != nil {
			return fmt.Errorf("invalid persistent peer %q: %w", p, err)
		}
	}
	return nil
}

//-----------------------------------------------------------------------------
// DiscoveryConfig

// DiscoveryConfig defines the local-network discovery options.
type DiscoveryConfig struct {
	// Advertise this node and browse for peers with mDNS
	Enabled bool `mapstructure:"enabled"`

	// mDNS service type and domain
	ServiceType string `mapstructure:"service-type"`
	Domain      string `mapstructure:"domain"`

	// Prefix of the advertised instance name
	NamePrefix string `mapstructure:"name-prefix"`

	// Length of one lookup round; instances missing from a round are
	// considered gone
	BrowseInterval time.Duration `mapstructure:"browse-interval"`
}

// DefaultDiscoveryConfig returns a default discovery configuration.
func DefaultDiscoveryConfig() *DiscoveryConfig {
	return &DiscoveryConfig{
		Enabled:        true,
		ServiceType:    "_p2pnotesync._tcp",
		Domain:         "local.",
		NamePrefix:     "P2PNotesSyncNode",
		BrowseInterval: 30 * time.Second,
	}
}

// TestDiscoveryConfig returns a discovery configuration for testing.
func TestDiscoveryConfig() *DiscoveryConfig {
	cfg := DefaultDiscoveryConfig()
	cfg.Enabled = false
	return cfg
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *DiscoveryConfig) ValidateBasic() error {
	if !cfg.Enabled {
		return nil
	}
	if cfg.ServiceType == "" || cfg.Domain == "" || cfg.NamePrefix == "" {
		return errors.New("service-type, domain and name-prefix are required")
	}
	if cfg.BrowseInterval <= 0 {
		return errors.New("browse-interval must be positive")
	}
	return nil
}

//-----------------------------------------------------------------------------
// CoordinatorConfig

// CoordinatorConfig sizes the pool that applies peer messages.
type CoordinatorConfig struct {
	// Number of worker lanes. Messages from one session always use the
	// same lane.
	Workers int `mapstructure:"workers"`

	// Messages that can wait per lane before new ones are dropped
	QueueSize int `mapstructure:"queue-size"`
}

// DefaultCoordinatorConfig returns a default coordinator configuration.
func DefaultCoordinatorConfig() *CoordinatorConfig {
	return &CoordinatorConfig{
		Workers:   4,
		QueueSize: 128,
	}
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *CoordinatorConfig) ValidateBasic() error {
	if cfg.Workers < 0 {
		return errors.New("workers can't be negative")
	}
	if cfg.QueueSize < 0 {
		return errors.New("queue-size can't be negative")
	}
	return nil
}

//-----------------------------------------------------------------------------
// APIConfig

// APIConfig defines the admin HTTP API options.
type APIConfig struct {
	// A list of origins a cross-domain request can be executed from.
	// If the special '*' value is present in the list, all origins will be allowed.
	// An origin may contain a wildcard (*) to replace 0 or more characters (i.e.: http://*.domain.com).
	// Only one wildcard can be used per origin.
	CORSAllowedOrigins []string `mapstructure:"cors-allowed-origins"`

	// A list of methods the client is allowed to use with cross-domain requests.
	CORSAllowedMethods []string `mapstructure:"cors-allowed-methods"`

	// A list of non simple headers the client is allowed to use with cross-domain requests.
	CORSAllowedHeaders []string `mapstructure:"cors-allowed-headers"`
}

// DefaultAPIConfig returns a default API configuration.
func DefaultAPIConfig() *APIConfig {
	return &APIConfig{
		CORSAllowedOrigins: []string{},
		CORSAllowedMethods: []string{"HEAD", "GET", "POST", "PUT", "DELETE"},
		CORSAllowedHeaders: []string{"Origin", "Accept", "Content-Type", "X-Requested-With"},
	}
}

// IsCorsEnabled returns true if cross-origin resource sharing is enabled.
func (cfg *APIConfig) IsCorsEnabled() bool {
	return len(cfg.CORSAllowedOrigins) != 0
}

//-----------------------------------------------------------------------------
// InstrumentationConfig

// InstrumentationConfig defines the configuration for metrics reporting.
type InstrumentationConfig struct {
	// When true, Prometheus metrics are served under /metrics on the main
	// listener.
	Prometheus bool `mapstructure:"prometheus"`

	// Instrumentation namespace.
	Namespace string `mapstructure:"namespace"`
}

// DefaultInstrumentationConfig returns a default configuration for metrics
// reporting.
func DefaultInstrumentationConfig() *InstrumentationConfig {
	return &InstrumentationConfig{
		Prometheus: false,
		Namespace:  "notesync",
	}
}

// TestInstrumentationConfig returns a default configuration for metrics
// reporting.
func TestInstrumentationConfig() *InstrumentationConfig {
	return DefaultInstrumentationConfig()
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *InstrumentationConfig) ValidateBasic() error {
	if cfg.Prometheus && cfg.Namespace == "" {
		return errors.New("namespace is required when prometheus is enabled")
	}
	return nil
}

//-----------------------------------------------------------------------------
// Utils

// helper function to make config creation independent of root dir
func rootify(path, root string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}

//-----------------------------------------------------------------------------
// Moniker

var defaultMoniker = getDefaultMoniker()

// getDefaultMoniker returns a default moniker, which is the host name. If runtime
// fails to get the host name, "anonymous" will be returned.
func getDefaultMoniker() string {
	moniker, err := os.Hostname()
	if err != nil {
		moniker = "anonymous"
	}
	return moniker
}
