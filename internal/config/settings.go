package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Settings are runtime knobs read from ENVLOCK_* environment variables.
// They are never written back to config.json.
type Settings struct {
	ConfigPath     string        `mapstructure:"config"`
	APIURL         string        `mapstructure:"api_url"`
	AuthURL        string        `mapstructure:"auth_url"`
	ClientID       string        `mapstructure:"client_id"`
	CallbackPort   int           `mapstructure:"callback_port"`
	LoginTimeout   time.Duration `mapstructure:"login_timeout"`
	KeyringService string        `mapstructure:"keyring_service"`
	NonInteractive bool          `mapstructure:"non_interactive"`
	// AWSEndpoint overrides the AWS service endpoint, e.g. LocalStack.
	AWSEndpoint string `mapstructure:"aws_endpoint"`
}

const (
	DefaultAPIURL         = "https://api.envlock.dev"
	DefaultAuthURL        = "https://auth.envlock.dev"
	DefaultClientID       = "envlock-cli"
	DefaultCallbackPort   = 8085
	DefaultLoginTimeout   = 5 * time.Minute
	DefaultKeyringService = "envlock"
)

// LoadSettings reads Settings from the environment on top of defaults.
func LoadSettings() (Settings, error) {
	return loadSettings(viper.New())
}

func loadSettings(v *viper.Viper) (Settings, error) {
	v.SetEnvPrefix("ENVLOCK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("config", "")
	v.SetDefault("api_url", DefaultAPIURL)
	v.SetDefault("auth_url", DefaultAuthURL)
	v.SetDefault("client_id", DefaultClientID)
	v.SetDefault("callback_port", DefaultCallbackPort)
	v.SetDefault("login_timeout", DefaultLoginTimeout)
	v.SetDefault("keyring_service", DefaultKeyringService)
	v.SetDefault("non_interactive", false)
	v.SetDefault("aws_endpoint", "")

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("failed to read ENVLOCK_* settings: %w", err)
	}

	if s.CallbackPort <= 0 || s.CallbackPort > 65535 {
		return Settings{}, fmt.Errorf("ENVLOCK_CALLBACK_PORT must be between 1 and 65535, got %d", s.CallbackPort)
	}
	if s.LoginTimeout <= 0 {
		return Settings{}, fmt.Errorf("ENVLOCK_LOGIN_TIMEOUT must be positive, got %s", s.LoginTimeout)
	}

	s.APIURL = strings.TrimRight(s.APIURL, "/")
	s.AuthURL = strings.TrimRight(s.AuthURL, "/")

	return s, nil
}
