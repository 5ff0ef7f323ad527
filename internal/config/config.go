package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"reflect"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

var ErrInvalid = errors.New("config: invalid")

type Config struct {
	Service ServiceConfig `mapstructure:"service"`
	Log     LogConfig     `mapstructure:"log"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Catalog CatalogConfig `mapstructure:"catalog"`
	Session SessionConfig `mapstructure:"session"`
	Intent  IntentConfig  `mapstructure:"intent"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Card    CardConfig    `mapstructure:"card"`
	DePay   DePayConfig   `mapstructure:"depay"`
	LLM     LLMConfig     `mapstructure:"llm"`
	AMQP    AMQPConfig    `mapstructure:"amqp"`
}

type ServiceConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	SecureCookies   bool          `mapstructure:"secure_cookies"`
}

type CatalogConfig struct {
	Dir string `mapstructure:"dir"`
}

type SessionConfig struct {
	Backend string        `mapstructure:"backend"`
	TTL     time.Duration `mapstructure:"ttl"`
	// SweepInterval only applies to the memory backend.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type IntentConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type CardConfig struct {
	Endpoint   string        `mapstructure:"endpoint"`
	MerchantID string        `mapstructure:"merchant_id"`
	APIKey     string        `mapstructure:"api_key"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type DePayConfig struct {
	PrivateKeyPath string          `mapstructure:"private_key_path"`
	PublicKeyPath  string          `mapstructure:"public_key_path"`
	Accept         []AcceptedAsset `mapstructure:"accept"`
}

// AcceptedAsset is one token the crypto processor may settle in.
type AcceptedAsset struct {
	Blockchain string `mapstructure:"blockchain" json:"blockchain"`
	Token      string `mapstructure:"token" json:"token"`
	Receiver   string `mapstructure:"receiver" json:"receiver"`
}

type LLMConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
	// MaxHistory bounds the stored conversation, system message excluded.
	MaxHistory int `mapstructure:"max_history"`
}

type AMQPConfig struct {
	URL      string        `mapstructure:"url"`
	Exchange string        `mapstructure:"exchange"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.name", "diner")
	v.SetDefault("service.env", "dev")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")

	v.SetDefault("http.addr", ":8000")
	v.SetDefault("http.request_timeout", 30*time.Second)
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	v.SetDefault("http.secure_cookies", false)

	v.SetDefault("catalog.dir", ".")

	v.SetDefault("session.backend", BackendMemory)
	v.SetDefault("session.ttl", 48*time.Hour)
	v.SetDefault("session.sweep_interval", 10*time.Minute)
	v.SetDefault("intent.ttl", time.Hour)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("card.endpoint", "")
	v.SetDefault("card.merchant_id", "")
	v.SetDefault("card.api_key", "")
	v.SetDefault("card.timeout", 10*time.Second)

	v.SetDefault("depay.private_key_path", "private_key.pem")
	v.SetDefault("depay.public_key_path", "public_key.pem")
	v.SetDefault("depay.accept", []map[string]string{})

	v.SetDefault("llm.base_url", "https://api.awanllm.com/v1")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "Awanllm-Llama-3-8B-Dolfin")
	v.SetDefault("llm.timeout", 30*time.Second)
	v.SetDefault("llm.max_history", 50)

	v.SetDefault("amqp.url", "")
	v.SetDefault("amqp.exchange", "kitchen")
	v.SetDefault("amqp.timeout", 5*time.Second)
}

// Load reads defaults, then the optional file at path, then the environment. A .env file in the
// working directory is loaded into the environment first when present; variables already set win.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		acceptListHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// acceptListHook lets DEPAY_ACCEPT carry the asset list as a JSON array.
func acceptListHook() mapstructure.DecodeHookFuncType {
	target := reflect.TypeOf([]AcceptedAsset{})
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if from.Kind() != reflect.String || to != target {
			return data, nil
		}
		raw := strings.TrimSpace(data.(string))
		if raw == "" {
			return []AcceptedAsset{}, nil
		}
		var assets []AcceptedAsset
		if err := json.Unmarshal([]byte(raw), &assets); err != nil {
			return nil, fmt.Errorf("depay.accept: %w", err)
		}
		return assets, nil
	}
}

func (c *Config) Validate() error {
	switch c.Session.Backend {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("%w: session.backend %q", ErrInvalid, c.Session.Backend)
	}
	if c.HTTP.Addr == "" {
		return fmt.Errorf("%w: http.addr is empty", ErrInvalid)
	}
	if c.Session.Backend == BackendRedis && c.Redis.Addr == "" {
		return fmt.Errorf("%w: redis.addr is required for the redis backend", ErrInvalid)
	}
	for i, a := range c.DePay.Accept {
		if a.Blockchain == "" || a.Token == "" || a.Receiver == "" {
			return fmt.Errorf("%w: depay.accept[%d] needs blockchain, token and receiver", ErrInvalid, i)
		}
	}
	if c.LLM.MaxHistory < 0 {
		return fmt.Errorf("%w: llm.max_history is negative", ErrInvalid)
	}
	return nil
}
