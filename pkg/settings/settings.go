// Package settings loads the mongocfg tool configuration file.
//
// The file is YAML. Keys that are left out keep the values from Default,
// so a settings file only needs to name what it changes:
//
//	store:
//	  path: /var/lib/mongocfg/state.db
//	policy:
//	  paths: [/etc/mongocfg/policies]
//	  disabled: [journal-disabled]
//	telemetry:
//	  logging:
//	    level: debug
//
// telemetry_profile picks the telemetry starting point (default,
// development or production) that the telemetry section then overlays.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/mongocfg/pkg/telemetry"
)

// Settings is the tool configuration. It never carries server parameters.
type Settings struct {
	TelemetryProfile string           `yaml:"telemetry_profile" validate:"omitempty,oneof=default development production"`
	Telemetry        telemetry.Config `yaml:"telemetry"`
	Store     StoreSettings    `yaml:"store"`
	Policy    PolicySettings   `yaml:"policy"`
	Facts     FactsSettings    `yaml:"facts"`
	SSH       SSHSettings      `yaml:"ssh"`
	Watch     WatchSettings    `yaml:"watch"`
}

// StoreSettings locates the render history and facts database.
type StoreSettings struct {
	Path string `yaml:"path" validate:"required"`
}

// PolicySettings selects extra policies and turns built-ins off.
type PolicySettings struct {
	Paths    []string `yaml:"paths"`
	Disabled []string `yaml:"disabled"`

	// FailOnViolation makes validate fail on blocking violations.
	FailOnViolation bool `yaml:"fail_on_violation"`
}

// FactsSettings chooses where platform facts come from by default.
type FactsSettings struct {
	Source        string        `yaml:"source" validate:"oneof=local stored remote"`
	TTL           time.Duration `yaml:"ttl" validate:"gte=0"`
	OSReleasePath string        `yaml:"os_release_path"`
}

// SSHSettings are the defaults for remote fact collection.
type SSHSettings struct {
	User                  string        `yaml:"user"`
	Port                  int           `yaml:"port" validate:"min=1,max=65535"`
	KeyPath               string        `yaml:"key_path"`
	KnownHostsPath        string        `yaml:"known_hosts_path"`
	StrictHostKeyChecking bool          `yaml:"strict_host_key_checking"`
	Timeout               time.Duration `yaml:"timeout" validate:"gt=0"`
}

// WatchSettings configures the watch command.
type WatchSettings struct {
	Debounce time.Duration `yaml:"debounce" validate:"gt=0"`
}

// Default returns the built-in settings.
func Default() *Settings {
	return &Settings{
		Telemetry: *telemetry.DefaultConfig(),
		Store:     StoreSettings{Path: defaultStorePath()},
		Policy:    PolicySettings{FailOnViolation: true},
		Facts: FactsSettings{
			Source: "local",
			TTL:    time.Hour,
		},
		SSH: SSHSettings{
			User:                  os.Getenv("USER"),
			Port:                  22,
			StrictHostKeyChecking: true,
			Timeout:               30 * time.Second,
		},
		Watch: WatchSettings{Debounce: 500 * time.Millisecond},
	}
}

func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "mongocfg.db"
	}
	return filepath.Join(home, ".mongocfg", "mongocfg.db")
}

// Load reads path over Default and validates the result. An empty path
// returns the defaults.
func Load(path string) (*Settings, error) {
	s := Default()
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	if err := Parse(data, s); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Parse decodes YAML data into s and validates it. A telemetry_profile
// replaces s.Telemetry before the telemetry section is applied.
func Parse(data []byte, s *Settings) error {
	var head struct {
		Profile string `yaml:"telemetry_profile"`
	}
	if err := yaml.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("parse settings: %w", err)
	}
	if head.Profile != "" {
		cfg, err := telemetry.ConfigForProfile(head.Profile)
		if err != nil {
			return err
		}
		s.Telemetry = *cfg
	}

	if err := yaml.Unmarshal(data, s); err != nil {
		return fmt.Errorf("parse settings: %w", err)
	}
	return s.Validate()
}

// Validate checks every field constraint, the telemetry section included.
func (s *Settings) Validate() error {
	err := validate.Struct(s)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Errorf("%s: failed %q constraint", fe.Namespace(), fe.Tag()))
	}
	return errors.Join(msgs...)
}

var validate = validator.New(validator.WithRequiredStructEnabled())
