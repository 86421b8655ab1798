// Package config loads settings from defaults, an optional YAML file,
// GOSTER_* environment variables and command-line flags, in rising order of
// precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix is prepended to upper-cased keys: upload.ack_timeout is read
	// from GOSTER_UPLOAD_ACK_TIMEOUT
	EnvPrefix = "GOSTER"
	// FileName is searched in the working directory and /etc/goster-mission
	FileName = "goster-mission"
)

type TransportConfig struct {
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout"`
	SystemID         uint8         `mapstructure:"system_id"`
	ComponentID      uint8         `mapstructure:"component_id"`
	MavlinkVersion   uint8         `mapstructure:"mavlink_version"`
}

type UploadConfig struct {
	ItemRequestTimeout time.Duration `mapstructure:"item_request_timeout"`
	AckTimeout         time.Duration `mapstructure:"ack_timeout"`
	ClearAckTimeout    time.Duration `mapstructure:"clear_ack_timeout"`
	CountRetries       int           `mapstructure:"count_retries"`
	FirstItemCurrent   bool          `mapstructure:"first_item_current"`
}

type PlanConfig struct {
	ServoPWM       float64 `mapstructure:"servo_pwm"`
	UseRowAltitude bool    `mapstructure:"use_row_altitude"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type APIConfig struct {
	Listen string `mapstructure:"listen"`
}

type MQTTConfig struct {
	// Broker empty disables notifications
	Broker   string `mapstructure:"broker"`
	Topic    string `mapstructure:"topic"`
	ClientID string `mapstructure:"client_id"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
	JSON  bool   `mapstructure:"json"`
}

// Config is the whole process configuration
type Config struct {
	Transport TransportConfig `mapstructure:"transport"`
	Upload    UploadConfig    `mapstructure:"upload"`
	Plan      PlanConfig      `mapstructure:"plan"`
	Store     StoreConfig     `mapstructure:"store"`
	API       APIConfig       `mapstructure:"api"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
	Log       LogConfig       `mapstructure:"log"`

	// File is the config file that was read, if any
	File string `mapstructure:"-"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("transport.heartbeat_timeout", 10*time.Second)
	v.SetDefault("transport.system_id", 255)
	v.SetDefault("transport.component_id", 190)
	v.SetDefault("transport.mavlink_version", 2)

	v.SetDefault("upload.item_request_timeout", 5*time.Second)
	v.SetDefault("upload.ack_timeout", 5*time.Second)
	v.SetDefault("upload.clear_ack_timeout", time.Second)
	v.SetDefault("upload.count_retries", 0)
	v.SetDefault("upload.first_item_current", false)

	v.SetDefault("plan.servo_pwm", 1500)
	v.SetDefault("plan.use_row_altitude", false)

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "./missions.db")

	v.SetDefault("api.listen", ":8001")

	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.topic", "goster/missions")
	v.SetDefault("mqtt.client_id", "goster-mission")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.json", false)
}

// flagKeys maps command-line flags onto configuration keys
var flagKeys = map[string]string{
	"heartbeat-timeout": "transport.heartbeat_timeout",
	"mavlink-version":   "transport.mavlink_version",
	"item-timeout":      "upload.item_request_timeout",
	"ack-timeout":       "upload.ack_timeout",
	"count-retries":     "upload.count_retries",
	"servo-pwm":         "plan.servo_pwm",
	"store-driver":      "store.driver",
	"store-dsn":         "store.dsn",
	"listen":            "api.listen",
	"mqtt-broker":       "mqtt.broker",
	"log-level":         "log.level",
	"log-file":          "log.file",
}

// RegisterFlags adds the shared flags to fs. Defaults shown in help text are
// the built-in ones; unset flags never override file or environment values.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "configuration file (default ./"+FileName+".yaml)")
	fs.Duration("heartbeat-timeout", 10*time.Second, "wait for the vehicle heartbeat")
	fs.Uint8("mavlink-version", 2, "MAVLink framing for outgoing messages (1 or 2)")
	fs.Duration("item-timeout", 5*time.Second, "wait for each item request")
	fs.Duration("ack-timeout", 5*time.Second, "wait for the final mission ack")
	fs.Int("count-retries", 0, "resend MISSION_COUNT this often if the vehicle stays silent")
	fs.Float64("servo-pwm", 1500, "servo pulse for drop rows without a servo value")
	fs.String("store-driver", "sqlite", "upload history driver: sqlite or pgx")
	fs.String("store-dsn", "./missions.db", "upload history database")
	fs.String("listen", ":8001", "HTTP listen address")
	fs.String("mqtt-broker", "", "MQTT broker for upload notifications, e.g. tcp://localhost:1883")
	fs.String("log-level", "info", "trace, debug, info, warn or error")
	fs.String("log-file", "", "also write a rotated log to this file")
}

// Load resolves the configuration. fs may be nil; flags it has that were not
// registered by RegisterFlags are ignored.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var file string
	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, err
				}
			}
		}
		if f := fs.Lookup("config"); f != nil {
			file = f.Value.String()
		}
	}

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/goster-mission")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings no component can run with
func (c *Config) Validate() error {
	var problems []string
	if c.Transport.HeartbeatTimeout <= 0 {
		problems = append(problems, "transport.heartbeat_timeout must be positive")
	}
	if c.Transport.MavlinkVersion != 1 && c.Transport.MavlinkVersion != 2 {
		problems = append(problems, "transport.mavlink_version must be 1 or 2")
	}
	if c.Upload.ItemRequestTimeout <= 0 || c.Upload.AckTimeout <= 0 {
		problems = append(problems, "upload timeouts must be positive")
	}
	if c.Upload.ClearAckTimeout < 0 {
		problems = append(problems, "upload.clear_ack_timeout must not be negative")
	}
	if c.Upload.CountRetries < 0 {
		problems = append(problems, "upload.count_retries must not be negative")
	}
	if c.Plan.ServoPWM <= 0 {
		problems = append(problems, "plan.servo_pwm must be positive")
	}
	switch c.Store.Driver {
	case "sqlite", "pgx", "postgres":
	default:
		problems = append(problems, fmt.Sprintf("store.driver %q is not sqlite or pgx", c.Store.Driver))
	}
	if len(problems) > 0 {
		return errors.New("invalid configuration: " + strings.Join(problems, "; "))
	}
	return nil
}
