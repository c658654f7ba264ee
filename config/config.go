package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Monitor MonitorConfig `mapstructure:"monitor"`
	Log     LogConfig     `mapstructure:"log"`
}

type ServerConfig struct {
	APIBaseURL string `mapstructure:"api_base_url"`
	WSBaseURL  string `mapstructure:"ws_base_url"`
}

type SyncConfig struct {
	ReconnectDelay      time.Duration `mapstructure:"reconnect_delay"`
	HandshakeTimeout    time.Duration `mapstructure:"handshake_timeout"`
	FetchTimeout        time.Duration `mapstructure:"fetch_timeout"`
	PollInterval        time.Duration `mapstructure:"poll_interval"`
	RefreshAfterCommand time.Duration `mapstructure:"refresh_after_command"`
	TimerResolution     time.Duration `mapstructure:"timer_resolution"`
	// ReadTimeout is how long the realtime socket may stay silent, pongs
	// included, before it is treated as dead.
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type AuthConfig struct {
	TokenFile string `mapstructure:"token_file"`
	// PlayerID overrides the user id read from the token claims when non-zero.
	PlayerID int64 `mapstructure:"player_id"`
}

type MonitorConfig struct {
	Address   string `mapstructure:"address"`
	Namespace string `mapstructure:"namespace"`
}

type LogConfig struct {
	Development bool `mapstructure:"development"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.api_base_url", "http://localhost:8080/api/v1")
	v.SetDefault("server.ws_base_url", "ws://localhost:8080")
	v.SetDefault("sync.reconnect_delay", 3*time.Second)
	v.SetDefault("sync.handshake_timeout", 5*time.Second)
	v.SetDefault("sync.fetch_timeout", 5*time.Second)
	v.SetDefault("sync.poll_interval", 3*time.Second)
	v.SetDefault("sync.refresh_after_command", 500*time.Millisecond)
	v.SetDefault("sync.timer_resolution", 50*time.Millisecond)
	v.SetDefault("sync.read_timeout", 60*time.Second)
	v.SetDefault("sync.write_timeout", 10*time.Second)
	v.SetDefault("auth.token_file", "token.json")
	v.SetDefault("auth.player_id", 0)
	v.SetDefault("monitor.address", "")
	v.SetDefault("monitor.namespace", "splendor_client")
	v.SetDefault("log.development", false)
}

// LoadConfig reads config.yaml from path. A missing file is not an error;
// defaults and SPLENDOR_* environment variables still apply.
func LoadConfig(path string) (config *Config, err error) {
	v := viper.New()
	setDefaults(v)

	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("splendor")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	err = v.Unmarshal(&config)
	return
}
