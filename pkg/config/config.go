package config

import (
	"fmt"
	"os"
	"reflect"

	"github.com/harunnryd/voxbridge/pkg/configutil"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig      `mapstructure:"server"`
	Twilio     TwilioConfig      `mapstructure:"twilio"`
	Engine     EngineConfig      `mapstructure:"engine"`
	Automation AutomationConfig  `mapstructure:"automation"`
	Stages     StagesConfig      `mapstructure:"stages"`
	Calendars  map[string]string `mapstructure:"calendars"`

	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"`
	MetricsPath string `mapstructure:"metrics_path"`
}

type ServerConfig struct {
	Addr          string `mapstructure:"addr"`
	PublicURL     string `mapstructure:"public_url"`
	VoicePath     string `mapstructure:"voice_path"`
	WebsocketPath string `mapstructure:"ws_path"`
}

type TwilioConfig struct {
	AccountSID  string `mapstructure:"account_sid"`
	AuthToken   string `mapstructure:"auth_token"`
	PhoneNumber string `mapstructure:"phone_number"`
}

type EngineConfig struct {
	BaseURL      string  `mapstructure:"base_url"`
	APIKey       string  `mapstructure:"api_key"`
	Model        string  `mapstructure:"model"`
	Voice        string  `mapstructure:"voice"`
	Temperature  float64 `mapstructure:"temperature"`
	SampleRate   int     `mapstructure:"sample_rate"`
	BufferSizeMS int     `mapstructure:"buffer_size_ms"`
	FirstMessage string  `mapstructure:"first_message"`
	CorpusID     string  `mapstructure:"corpus_id"`

	VAD VADConfig `mapstructure:"vad"`
}

// VADConfig values are duration strings; the engine only honors
// multiples of 32ms.
type VADConfig struct {
	TurnEndpointDelay           string `mapstructure:"turn_endpoint_delay"`
	MinimumTurnDuration         string `mapstructure:"minimum_turn_duration"`
	MinimumInterruptionDuration string `mapstructure:"minimum_interruption_duration"`
}

type AutomationConfig struct {
	WebhookURL     string `mapstructure:"webhook_url"`
	Retries        int    `mapstructure:"retries"`
	RetryBackoffMS int    `mapstructure:"retry_backoff_ms"`
}

type StagesConfig struct {
	Voices map[string]string `mapstructure:"voices"`
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.voice_path", "/voice")
	v.SetDefault("server.ws_path", "/media-stream")
	v.SetDefault("engine.base_url", "https://api.ultravox.ai")
	v.SetDefault("engine.model", "fixie-ai/ultravox")
	v.SetDefault("engine.voice", "Tanya-English")
	v.SetDefault("engine.temperature", 0.1)
	v.SetDefault("engine.sample_rate", 8000)
	v.SetDefault("engine.buffer_size_ms", 60)
	v.SetDefault("engine.vad.turn_endpoint_delay", "0.384s")
	v.SetDefault("engine.vad.minimum_turn_duration", "0s")
	v.SetDefault("engine.vad.minimum_interruption_duration", "0.09s")
	v.SetDefault("automation.retries", 1)
	v.SetDefault("automation.retry_backoff_ms", 200)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := configutil.DecodeSettings(v.AllSettings(), &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := configutil.RequireString(c.Twilio.AccountSID, "twilio.account_sid"); err != nil {
		return err
	}
	if err := configutil.RequireString(c.Twilio.AuthToken, "twilio.auth_token"); err != nil {
		return err
	}
	if err := configutil.RequireString(c.Engine.APIKey, "engine.api_key"); err != nil {
		return err
	}
	if err := configutil.RequireString(c.Automation.WebhookURL, "automation.webhook_url"); err != nil {
		return err
	}
	if len(c.Stages.Voices) > 0 {
		voices := make(map[string]any, len(c.Stages.Voices))
		for k, v := range c.Stages.Voices {
			voices[k] = v
		}
		schema := configutil.Schema{Optional: []string{"intake", "main_convo", "call_summary"}}
		if err := configutil.ValidateSettings(voices, schema); err != nil {
			return fmt.Errorf("stages.voices: %w", err)
		}
	}
	return nil
}

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			expandValue(v.Index(i))
		}
	case reflect.Map:
		if v.Type().Key().Kind() == reflect.String && v.Type().Elem().Kind() == reflect.String {
			for _, key := range v.MapKeys() {
				val := v.MapIndex(key)
				expanded := os.ExpandEnv(val.String())
				v.SetMapIndex(key, reflect.ValueOf(expanded))
			}
		}
	}
}
