package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Duration wraps time.Duration so timeouts can be written as "5m" or
// "90s" in the YAML config.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Phases holds the per-phase timeout and polling budgets for the
// deployment monitor. Boot and Reachability budgets are fatal on expiry;
// the rest degrade to warnings.
type Phases struct {
	BootTimeout      Duration `yaml:"boot_timeout"`
	BootPoll         Duration `yaml:"boot_poll"`
	InstallFirstMsg  Duration `yaml:"install_first_message_timeout"`
	InstallCeiling   Duration `yaml:"install_ceiling"`
	ReachTimeout     Duration `yaml:"reach_timeout"`
	ReachPoll        Duration `yaml:"reach_poll"`
	UIHealthTimeout  Duration `yaml:"ui_health_timeout"`
	ModelLoadTimeout Duration `yaml:"model_load_timeout"`
	HealthPoll       Duration `yaml:"health_poll"`
}

// Config contains application configuration
type Config struct {
	// Control-plane connection parameters
	APIBaseURL   string `yaml:"api_base_url"`
	AuthorizeURL string `yaml:"authorize_url"`
	ClientID     string `yaml:"client_id"`

	// Push-notification feed used for install progress
	NotifyServer string `yaml:"notify_server"`

	// Local paths
	DataDir       string `yaml:"data_dir"`
	CLIConfigPath string `yaml:"cli_config_path"`

	// Instance defaults
	GPUFamily     string `yaml:"gpu_family"`
	DefaultRegion string `yaml:"default_region"`
	DefaultType   string `yaml:"default_type"`
	DefaultImage  string `yaml:"default_image"`
	SSHUser       string `yaml:"ssh_user"`

	// Inference stack
	Model   string `yaml:"model"`
	APIPort int    `yaml:"api_port"`
	UIPort  int    `yaml:"ui_port"`

	// OAuth callback wait
	OAuthWait Duration `yaml:"oauth_wait"`

	// Deployment monitor budgets
	Phases Phases `yaml:"phases"`
}

// Load loads configuration from YAML file
func Load() (*Config, error) {
	config := &Config{
		APIBaseURL:    "https://api.linode.com/v4",
		AuthorizeURL:  "https://login.linode.com/oauth/authorize",
		ClientID:      "58234be9d3aac9eb0358",
		NotifyServer:  "https://ntfy.sh",
		DataDir:       defaultDataDir(),
		CLIConfigPath: defaultCLIConfigPath(),
		GPUFamily:     "g2-gpu",
		DefaultImage:  "linode/ubuntu24.04",
		SSHUser:       "root",
		Model:         "llama3.1:8b",
		APIPort:       11434,
		UIPort:        3000,
		OAuthWait:     Duration(3 * time.Minute),
		Phases: Phases{
			BootTimeout:      Duration(5 * time.Minute),
			BootPoll:         Duration(10 * time.Second),
			InstallFirstMsg:  Duration(10 * time.Minute),
			InstallCeiling:   Duration(25 * time.Minute),
			ReachTimeout:     Duration(5 * time.Minute),
			ReachPoll:        Duration(10 * time.Second),
			UIHealthTimeout:  Duration(5 * time.Minute),
			ModelLoadTimeout: Duration(30 * time.Minute),
			HealthPoll:       Duration(15 * time.Second),
		},
	}

	// Try to load from YAML file first
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "gpudeploy.yaml"
	}

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %v", err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %v", err)
		}
	}

	// Expand environment variables in string fields
	config.APIBaseURL = os.ExpandEnv(config.APIBaseURL)
	config.AuthorizeURL = os.ExpandEnv(config.AuthorizeURL)
	config.NotifyServer = os.ExpandEnv(config.NotifyServer)
	config.DataDir = os.ExpandEnv(config.DataDir)
	config.CLIConfigPath = os.ExpandEnv(config.CLIConfigPath)
	config.Model = os.ExpandEnv(config.Model)

	// Environment overrides
	if v := os.Getenv("GPUDEPLOY_API_URL"); v != "" {
		config.APIBaseURL = v
	}
	if v := os.Getenv("GPUDEPLOY_MODEL"); v != "" {
		config.Model = v
	}
	if v := os.Getenv("GPUDEPLOY_REGION"); v != "" {
		config.DefaultRegion = v
	}
	if v := os.Getenv("GPUDEPLOY_TYPE"); v != "" {
		config.DefaultType = v
	}

	// Validate required parameters
	if config.APIBaseURL == "" {
		return nil, fmt.Errorf("API base URL is required (set api_base_url in config file or GPUDEPLOY_API_URL environment variable)")
	}
	if config.GPUFamily == "" {
		return nil, fmt.Errorf("GPU instance family prefix is required (set gpu_family in config file)")
	}
	if config.Model == "" {
		return nil, fmt.Errorf("model identifier is required (set model in config file or GPUDEPLOY_MODEL environment variable)")
	}

	return config, nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".gpudeploy"
	}
	return home + "/.gpudeploy"
}

func defaultCLIConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home + "/.config/linode-cli"
}
