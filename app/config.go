package lobby

import (
	"encoding/base64"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/putto11262002/lobby/core"
	"github.com/putto11262002/lobby/pkg/blob"
)

type Mode string

const (
	DevMode  Mode = "dev"
	ProdMode Mode = "prod"
)

const (
	MemoryPresence = "memory"
	RedisPresence  = "redis"
)

type Config struct {
	// Port is the Port number to listen on. The default is 8080.
	Port int `mapstructure:"port" validate:"required,port"`
	// Hostname is the Hostname to listen on. The default is 0.0.0.0.
	Hostname string `mapstructure:"hostname" validate:"required"`
	Mode     Mode   `mapstructure:"mode" validate:"oneof=dev prod"`
	LogLevel string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	// AllowedOrigins is a list of origins that are allowed to connect to the server.
	// The default is ["*"].
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	TLS            struct {
		Crt string `mapstructure:"crt"`
		Key string `mapstructure:"key" validate:"required_with=Crt"`
	} `mapstructure:"tls"`
	Auth struct {
		// Secret is the Secret key used to sign JWT tokens.
		// The secret must be a base64 encoded string. The default is a random 32 byte string.
		Secret   Base64Encoded `mapstructure:"secret" validate:"required,min=16"`
		TokenTTL time.Duration `mapstructure:"token_ttl" validate:"gt=0"`
	} `mapstructure:"auth"`
	SQLite struct {
		// File is the path to the SQLite database file.
		File string `mapstructure:"file" validate:"required"`
	} `mapstructure:"sqlite"`
	Redis struct {
		Addr     string `mapstructure:"addr" validate:"required"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db" validate:"gte=0"`
	} `mapstructure:"redis"`
	Presence struct {
		Backend string `mapstructure:"backend" validate:"oneof=memory redis"`
		// TTL is how long a redis presence entry outlives its last heartbeat.
		TTL time.Duration `mapstructure:"ttl" validate:"gte=3s"`
	} `mapstructure:"presence"`
	Flush struct {
		Cron string `mapstructure:"cron" validate:"cron"`
	} `mapstructure:"flush"`
	WS struct {
		// Rate is the number of inbound events per second a connection may send. Zero disables the limit.
		Rate            float64 `mapstructure:"rate" validate:"gte=0"`
		Burst           int     `mapstructure:"burst" validate:"gte=0"`
		WriteStreamSize int     `mapstructure:"write_stream_size" validate:"gte=0"`
	} `mapstructure:"ws"`
	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic" validate:"required_with=Brokers"`
	} `mapstructure:"kafka"`
	Blob    blob.Config `mapstructure:"blob"`
	Tracing struct {
		Endpoint    string `mapstructure:"endpoint"`
		ServiceName string `mapstructure:"service_name"`
		Insecure    bool   `mapstructure:"insecure"`
	} `mapstructure:"tracing"`
	valid bool
}

func defaultConfig() map[string]any {
	return map[string]any{
		"port":                 8080,
		"hostname":             "0.0.0.0",
		"mode":                 string(DevMode),
		"log_level":            "info",
		"allowed_origins":      []string{"*"},
		"tls.crt":              "",
		"tls.key":              "",
		"auth.token_ttl":       "24h",
		"sqlite.file":          "./lobby.db",
		"redis.addr":           "localhost:6379",
		"redis.password":       "",
		"redis.db":             0,
		"presence.backend":     MemoryPresence,
		"presence.ttl":         "90s",
		"flush.cron":           core.DefaultFlushCron,
		"ws.rate":              20,
		"ws.burst":             40,
		"ws.write_stream_size": 100,
		"kafka.brokers":        []string{},
		"kafka.topic":          "lobby.notifications",
		"blob.endpoint":        "",
		"blob.access_key":      "",
		"blob.secret_key":      "",
		"blob.bucket":          "lobby",
		"blob.use_ssl":         false,
		"blob.public_url":      "",
		"tracing.endpoint":     "",
		"tracing.service_name": "lobby",
		"tracing.insecure":     true,
	}
}

type Base64Encoded []byte

func (b *Base64Encoded) UnmarshalText(text []byte) error {
	dec, err := base64.StdEncoding.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("base64 decode: %w", err)
	}
	*b = dec
	return nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Hostname, c.Port)
}

func (c *Config) Validate() error {
	if c.valid {
		return nil
	}
	err := validate.Struct(c)
	if err != nil {
		return err
	}
	c.valid = true
	return nil
}

func FormatValidationErrors(err error) string {

	errors, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	trans, _ := uniTrans.GetTranslator("en")
	translated := errors.Translate(trans)

	var sb strings.Builder
	for _, v := range slices.Sorted(maps.Values(translated)) {
		sb.WriteString(v)
		sb.WriteString("\n")
	}
	return sb.String()
}
