package lobby

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by the config, e.g. LOBBY_REDIS_ADDR.
const EnvPrefix = "LOBBY"

type ConfigLoader interface {
	Load() (*Config, error)
}

// ViperConfigLoader loads the configuration from an optional yaml file and environment variables.
// Keys are nested with dots in the file and underscores in the environment. Variables in the
// dotenv files are loaded into the environment first without overriding it.
// LOBBY_AUTH_SECRET is expected to be a base64-encoded string.
// LOBBY_ALLOWED_ORIGINS and LOBBY_KAFKA_BROKERS are comma-separated lists.
type ViperConfigLoader struct {
	// ConfigFile is read when set. Otherwise config.yaml is looked up in the working directory.
	ConfigFile string
	EnvFiles   []string
	// RequireSecret leaves auth.secret without a default, so it must be configured.
	RequireSecret bool
}

func (l *ViperConfigLoader) Load() (*Config, error) {
	envFiles := l.EnvFiles
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	v := viper.New()
	if l.ConfigFile != "" {
		v.SetConfigFile(l.ConfigFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, value := range defaultConfig() {
		v.SetDefault(key, value)
	}
	if !l.RequireSecret {
		// generate a random secret key
		secret, err := randomSecret()
		if err != nil {
			return nil, err
		}
		v.SetDefault("auth.secret", secret)
	} else {
		v.SetDefault("auth.secret", "")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if l.ConfigFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	return decode(v)
}

// DefaultConfigLoader returns the defaults with a random secret. It ignores files and the environment.
type DefaultConfigLoader struct {
}

func (l *DefaultConfigLoader) Load() (*Config, error) {
	v := viper.New()
	for key, value := range defaultConfig() {
		v.Set(key, value)
	}
	secret, err := randomSecret()
	if err != nil {
		return nil, err
	}
	v.Set("auth.secret", secret)
	return decode(v)
}

// LoadConfig loads the configuration from config.yaml, .env and the environment.
func LoadConfig() (*Config, error) {
	return (&ViperConfigLoader{}).Load()
}

func randomSecret() (string, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(secret), nil
}

func decode(v *viper.Viper) (*Config, error) {
	config := &Config{}
	if err := v.Unmarshal(config, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return config, nil
}
