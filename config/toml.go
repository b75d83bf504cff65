package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/creachadair/atomicfile"

	tmos "github.com/notesync/notesync/libs/os"
)

// defaultDirPerm is the default permissions used when creating directories.
const defaultDirPerm = 0700

var configTemplate *template.Template

func init() {
	var err error
	tmpl := template.New("configFileTemplate").Funcs(template.FuncMap{
		"StringsJoin": strings.Join,
	})
	if configTemplate, err = tmpl.Parse(defaultConfigTemplate); err != nil {
		panic(err)
	}
}

/****** these are for production settings ***********/

// EnsureRoot creates the root, config, and data directories if they don't exist.
func EnsureRoot(rootDir string) error {
	for _, dir := range []string{rootDir, filepath.Join(rootDir, defaultConfigDir), filepath.Join(rootDir, defaultDataDir)} {
		if err := tmos.EnsureDir(dir, defaultDirPerm); err != nil {
			return err
		}
	}
	return nil
}

// ConfigFilePath returns the path of the config file under rootDir.
func ConfigFilePath(rootDir string) string {
	return filepath.Join(rootDir, defaultConfigFilePath)
}

// WriteConfigFile renders config using the template and writes it to
// the config file under rootDir.
func WriteConfigFile(rootDir string, config *Config) error {
	return config.WriteToTemplate(ConfigFilePath(rootDir))
}

// WriteToTemplate writes the config to the exact file specified by
// the path, in the default toml template and does not mangle the path
// or filename at all.
func (cfg *Config) WriteToTemplate(path string) error {
	var buffer bytes.Buffer

	if err := configTemplate.Execute(&buffer, cfg); err != nil {
		return err
	}

	if _, err := atomicfile.WriteAll(path, &buffer, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// WriteDefaultConfigFileIfNone writes the default config unless a config
// file already exists under rootDir.
func WriteDefaultConfigFileIfNone(rootDir string) error {
	if !tmos.FileExists(ConfigFilePath(rootDir)) {
		return WriteConfigFile(rootDir, DefaultConfig())
	}
	return nil
}

// Note: any changes to the comments/variables/mapstructure
// must be reflected in the appropriate struct in config/config.go
const defaultConfigTemplate = `# This is a TOML config file.
# For more information, see https://github.com/toml-lang/toml

# NOTE: Any path below can be absolute (e.g. "/var/notes/data") or
# relative to the home directory (e.g. "data"). The home directory is
# "$HOME/.notesync" by default, but could be changed via $NOTESYNC_HOME env
# variable or --home cmd flag.

#######################################################################
###                   Main Base Config Options                      ###
#######################################################################

# A custom human readable name for this node
moniker = "{{ .BaseConfig.Moniker }}"

# Output level for logging, including package level options
log-level = "{{ .BaseConfig.LogLevel }}"

# Output format: 'plain' (colored text) or 'json'
log-format = "{{ .BaseConfig.LogFormat }}"

# Path to the JSON file holding the configured repositories
repository-file = "{{ js .BaseConfig.RepositoryFile }}"

# Directory that repositories learned from peers are placed in
pending-dir = "{{ js .BaseConfig.PendingDir }}"

#######################################################################
###                 Advanced Configuration Options                  ###
#######################################################################

#######################################################
###           P2P Configuration Options             ###
#######################################################
[p2p]

# Address to listen for peer sessions and API requests
laddr = "{{ .P2P.ListenAddress }}"

# Path peer sessions are served on
endpoint-path = "{{ .P2P.EndpointPath }}"

# Comma separated list of host:port peers to dial once at startup
persistent-peers = "{{ .P2P.PersistentPeers }}"

# Time to wait for an outbound session to be established
dial-timeout = "{{ .P2P.DialTimeout }}"

# Number of outbound frames that can be queued per session
send-queue-size = {{ .P2P.SendQueueSize }}

# Maximum size of an inbound frame, in bytes
max-message-size = {{ .P2P.MaxMessageSize }}

#######################################################
###        Discovery Configuration Options          ###
#######################################################
[discovery]

# Advertise this node and browse for peers with mDNS
enabled = {{ .Discovery.Enabled }}

service-type = "{{ .Discovery.ServiceType }}"
domain = "{{ .Discovery.Domain }}"
name-prefix = "{{ .Discovery.NamePrefix }}"

# Length of one lookup round
browse-interval = "{{ .Discovery.BrowseInterval }}"

#######################################################
###       Coordinator Configuration Options         ###
#######################################################
[coordinator]

# Number of worker lanes applying peer messages
workers = {{ .Coordinator.Workers }}

# Messages that can wait per lane before new ones are dropped
queue-size = {{ .Coordinator.QueueSize }}

#######################################################
###           API Configuration Options             ###
#######################################################
[api]

# A list of origins a cross-domain request can be executed from
# Default value '[]' disables cors support
# Use '["*"]' to allow any origin
cors-allowed-origins = [{{ range .API.CORSAllowedOrigins }}{{ printf "%q, " . }}{{end}}]

# A list of methods the client is allowed to use with cross-domain requests
cors-allowed-methods = [{{ range .API.CORSAllowedMethods }}{{ printf "%q, " . }}{{end}}]

# A list of non simple headers the client is allowed to use with cross-domain requests
cors-allowed-headers = [{{ range .API.CORSAllowedHeaders }}{{ printf "%q, " . }}{{end}}]

#######################################################
###       Instrumentation Configuration Options     ###
#######################################################
[instrumentation]

# When true, Prometheus metrics are served under /metrics
prometheus = {{ .Instrumentation.Prometheus }}

# Instrumentation namespace
namespace = "{{ .Instrumentation.Namespace }}"
`

/****** these are for test settings ***********/

// ResetTestRoot creates a fresh root directory under dir with a default
// config file and returns a test config rooted there.
func ResetTestRoot(dir, testName string) (*Config, error) {
	rootDir, err := os.MkdirTemp(dir, fmt.Sprintf("%s_", testName))
	if err != nil {
		return nil, err
	}
	if err := EnsureRoot(rootDir); err != nil {
		return nil, err
	}
	if err := WriteDefaultConfigFileIfNone(rootDir); err != nil {
		return nil, err
	}

	config := TestConfig().SetRoot(rootDir)
	config.Instrumentation.Namespace = testName
	return config, nil
}
