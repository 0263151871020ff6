// Package config holds process-wide configuration backed by environment
// variables. Secrets are read at call time, not at construction, so a key
// rotated through the settings endpoint takes effect without a restart.
package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	keyAPIKey   = "mistral_api_key"
	keyDemoMode = "demo_mode"
	keyHost     = "alchemistral_host"
	keyPort     = "alchemistral_port"
)

// Source is the read handle threaded through components that need live
// configuration. The LLM client and agent manager consult it per call.
type Source interface {
	// APIKey returns the current Mistral API key, empty when unset.
	APIKey() string
	// DemoMode reports whether the mock CLI adapter is forced.
	DemoMode() bool
}

// Config is the viper-backed implementation of Source plus server settings.
type Config struct {
	v *viper.Viper
}

// Load reads .env (if present) into the process environment and binds the
// known variables. Missing .env is not an error.
func Load() *Config {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	_ = v.BindEnv(keyAPIKey, "MISTRAL_API_KEY")
	_ = v.BindEnv(keyDemoMode, "DEMO_MODE")
	_ = v.BindEnv(keyHost, "ALCHEMISTRAL_HOST")
	_ = v.BindEnv(keyPort, "ALCHEMISTRAL_PORT")
	v.SetDefault(keyHost, "127.0.0.1")
	v.SetDefault(keyPort, 8787)

	return &Config{v: v}
}

// APIKey reads MISTRAL_API_KEY fresh from the environment on every call.
func (c *Config) APIKey() string {
	// viper caches BindEnv lookups against the live environment, but settings
	// updates mutate os.Environ directly, so read it ourselves first.
	if key := os.Getenv("MISTRAL_API_KEY"); key != "" {
		return key
	}
	return c.v.GetString(keyAPIKey)
}

// DemoMode reports whether DEMO_MODE=true is set.
func (c *Config) DemoMode() bool {
	if raw := os.Getenv("DEMO_MODE"); raw != "" {
		return strings.EqualFold(raw, "true")
	}
	return strings.EqualFold(c.v.GetString(keyDemoMode), "true")
}

// Host returns the HTTP bind host.
func (c *Config) Host() string {
	return c.v.GetString(keyHost)
}

// Port returns the HTTP bind port.
func (c *Config) Port() int {
	return c.v.GetInt(keyPort)
}

// Static is a fixed-value Source for tests.
type Static struct {
	Key  string
	Demo bool
}

func (s Static) APIKey() string { return s.Key }

func (s Static) DemoMode() bool { return s.Demo }
