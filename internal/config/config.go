// Package config loads the service shell's runtime configuration: listen
// port, certificate paths, discovery interface, pairing defaults, and
// the handshake timer overrides. Values come from a YAML file with
// environment-variable overrides, the pattern the rest of this codebase
// uses for every other ambient concern.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/enbility/eebus-core/internal/eebuserrors"
)

// Config is the full set of service-shell settings.
type Config struct {
	ServiceName string `yaml:"service_name" env:"EEBUS_SERVICE_NAME"`
	ListenAddr  string `yaml:"listen_addr" env:"EEBUS_LISTEN_ADDR"`
	DebugAddr   string `yaml:"debug_addr" env:"EEBUS_DEBUG_ADDR"`

	CertFile string `yaml:"cert_file" env:"EEBUS_CERT_FILE"`
	KeyFile  string `yaml:"key_file" env:"EEBUS_KEY_FILE"`

	DiscoveryInterface string `yaml:"discovery_interface" env:"EEBUS_DISCOVERY_INTERFACE"`
	PairingPossible    bool   `yaml:"pairing_possible" env:"EEBUS_PAIRING_POSSIBLE"`

	Vendor string `yaml:"vendor" env:"EEBUS_VENDOR"`
	Brand  string `yaml:"brand" env:"EEBUS_BRAND"`
	Model  string `yaml:"model" env:"EEBUS_MODEL"`
	Serial string `yaml:"serial" env:"EEBUS_SERIAL"`

	// Timer values (§4.8), preset by Default; no other package reads them.
	WaitForReadyTimeout time.Duration `yaml:"wait_for_ready_timeout" env:"EEBUS_WAIT_FOR_READY_TIMEOUT"`
	CMITimeout          time.Duration `yaml:"cmi_timeout" env:"EEBUS_CMI_TIMEOUT"`
}

// Default returns a Config with the spec's default values (§4.8, §6)
// applied.
func Default() Config {
	return Config{
		ServiceName:      "eebus-core",
		ListenAddr:       ":4712",
		DebugAddr:        ":8080",
		PairingPossible:  false,
		WaitForReadyTimeout: 60 * time.Second,
		CMITimeout:          10 * time.Second,
	}
}

// Load reads a YAML config file at path (if it exists), layers in
// environment-variable overrides, and fills in spec defaults for
// anything left unset.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, eebuserrors.Wrap(eebuserrors.KindInit, fmt.Sprintf("reading config file %s", path), err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, eebuserrors.Wrap(eebuserrors.KindParse, fmt.Sprintf("parsing config file %s", path), err)
		}
	}

	applyEnvOverrides(&cfg)

	if cfg.Vendor == "" || cfg.Serial == "" {
		return Config{}, eebuserrors.InputArgument("vendor/serial", "both must be set")
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("EEBUS_SERVICE_NAME"); v != "" {
		cfg.ServiceName = v
	}
	if v := os.Getenv("EEBUS_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("EEBUS_DEBUG_ADDR"); v != "" {
		cfg.DebugAddr = v
	}
	if v := os.Getenv("EEBUS_CERT_FILE"); v != "" {
		cfg.CertFile = v
	}
	if v := os.Getenv("EEBUS_KEY_FILE"); v != "" {
		cfg.KeyFile = v
	}
	if v := os.Getenv("EEBUS_DISCOVERY_INTERFACE"); v != "" {
		cfg.DiscoveryInterface = v
	}
	if v := os.Getenv("EEBUS_PAIRING_POSSIBLE"); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			cfg.PairingPossible = parsed
		}
	}
	if v := os.Getenv("EEBUS_VENDOR"); v != "" {
		cfg.Vendor = v
	}
	if v := os.Getenv("EEBUS_BRAND"); v != "" {
		cfg.Brand = v
	}
	if v := os.Getenv("EEBUS_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("EEBUS_SERIAL"); v != "" {
		cfg.Serial = v
	}
	if v := os.Getenv("EEBUS_WAIT_FOR_READY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.WaitForReadyTimeout = d
		}
	}
	if v := os.Getenv("EEBUS_CMI_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CMITimeout = d
		}
	}
}
