package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const devJWTSecret = "dev-secret-change-in-production-min-32-chars"

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	MAVLink MAVLinkConfig `mapstructure:"mavlink"`
	Session SessionConfig `mapstructure:"session"`
	Control ControlConfig `mapstructure:"control"`
	Vehicle VehicleConfig `mapstructure:"vehicle"`
}

type ServerConfig struct {
	GRPCPort        int           `mapstructure:"grpc_port"`
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Auth Configuration
type AuthConfig struct {
	JWTSecretEnv string        `mapstructure:"jwt_secret_env"`
	TokenTTL     time.Duration `mapstructure:"token_ttl"`
}

// MAVLinkConfig describes the vehicle endpoint. Commands go over TCP,
// telemetry arrives on a local UDP port.
type MAVLinkConfig struct {
	Address       string        `mapstructure:"address"`
	Port          int           `mapstructure:"port"`
	LocalPort     int           `mapstructure:"local_port"`
	TelemetryPort int           `mapstructure:"telemetry_port"`
	SystemID      int           `mapstructure:"system_id"`
	TargetSystem  int           `mapstructure:"target_system"`
	InitialGCS    int           `mapstructure:"initial_gcs"` // restored on stop until the vehicle reports its own
	DialTimeout   time.Duration `mapstructure:"dial_timeout"`
}

type SessionConfig struct {
	TickInterval      time.Duration `mapstructure:"tick_interval"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	ReconnectBackoff  time.Duration `mapstructure:"reconnect_backoff"`
	PollTimeout       time.Duration `mapstructure:"poll_timeout"`
	MaxReads          int           `mapstructure:"max_reads"`
	QueueSize         int           `mapstructure:"queue_size"`
	ReleaseWait       time.Duration `mapstructure:"release_wait"`
}

type ControlConfig struct {
	GainStep    int     `mapstructure:"gain_step"`
	InitialGain float64 `mapstructure:"initial_gain"`
	LightStep   int     `mapstructure:"light_step"`
	CameraStep  int     `mapstructure:"camera_step"`
}

type VehicleConfig struct {
	Profile string `mapstructure:"profile"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.shutdown_timeout", "5s")

	v.SetDefault("auth.jwt_secret_env", "TELEOP_JWT_SECRET")
	v.SetDefault("auth.token_ttl", "12h")

	v.SetDefault("mavlink.address", "127.0.0.1")
	v.SetDefault("mavlink.port", 5760)
	v.SetDefault("mavlink.local_port", 5770)
	v.SetDefault("mavlink.telemetry_port", 14551)
	v.SetDefault("mavlink.system_id", 254)
	v.SetDefault("mavlink.target_system", 1)
	v.SetDefault("mavlink.initial_gcs", 1)
	v.SetDefault("mavlink.dial_timeout", "1s")

	v.SetDefault("session.tick_interval", "20ms")
	v.SetDefault("session.heartbeat_interval", "1s")
	v.SetDefault("session.reconnect_backoff", "500ms")
	v.SetDefault("session.poll_timeout", "10ms")
	v.SetDefault("session.max_reads", 100)
	v.SetDefault("session.queue_size", 32)
	v.SetDefault("session.release_wait", "1s")

	v.SetDefault("control.gain_step", 10)
	v.SetDefault("control.initial_gain", 0.2)
	v.SetDefault("control.light_step", 100)
	v.SetDefault("control.camera_step", 50)

	v.SetDefault("vehicle.profile", "")
}

// Load reads the YAML file at path. An empty path runs on defaults and
// environment overrides only (TELEOP_MAVLINK_ADDRESS etc).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("TELEOP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("server.http_port out of range: %d", c.Server.HTTPPort))
	}
	if c.Server.GRPCPort < 0 || c.Server.GRPCPort > 65535 {
		errs = append(errs, fmt.Errorf("server.grpc_port out of range: %d", c.Server.GRPCPort))
	}
	if c.MAVLink.Address == "" {
		errs = append(errs, errors.New("mavlink.address is required"))
	}
	if c.MAVLink.Port <= 0 || c.MAVLink.Port > 65535 {
		errs = append(errs, fmt.Errorf("mavlink.port out of range: %d", c.MAVLink.Port))
	}
	if c.MAVLink.LocalPort < 0 || c.MAVLink.LocalPort > 65535 {
		errs = append(errs, fmt.Errorf("mavlink.local_port out of range: %d", c.MAVLink.LocalPort))
	}
	if c.MAVLink.TelemetryPort < 0 || c.MAVLink.TelemetryPort > 65535 {
		errs = append(errs, fmt.Errorf("mavlink.telemetry_port out of range: %d", c.MAVLink.TelemetryPort))
	}
	if c.MAVLink.SystemID < 1 || c.MAVLink.SystemID > 255 {
		errs = append(errs, fmt.Errorf("mavlink.system_id must be 1..255, got %d", c.MAVLink.SystemID))
	}
	if c.MAVLink.TargetSystem < 1 || c.MAVLink.TargetSystem > 255 {
		errs = append(errs, fmt.Errorf("mavlink.target_system must be 1..255, got %d", c.MAVLink.TargetSystem))
	}
	if c.MAVLink.InitialGCS < 1 || c.MAVLink.InitialGCS > 255 {
		errs = append(errs, fmt.Errorf("mavlink.initial_gcs must be 1..255, got %d", c.MAVLink.InitialGCS))
	}
	if c.Session.TickInterval <= 0 {
		errs = append(errs, errors.New("session.tick_interval must be positive"))
	}
	if c.Session.HeartbeatInterval <= 0 {
		errs = append(errs, errors.New("session.heartbeat_interval must be positive"))
	}
	if c.Session.MaxReads <= 0 {
		errs = append(errs, errors.New("session.max_reads must be positive"))
	}
	if c.Session.QueueSize <= 0 {
		errs = append(errs, errors.New("session.queue_size must be positive"))
	}
	if c.Control.GainStep < 2 || c.Control.GainStep > 10 {
		errs = append(errs, fmt.Errorf("control.gain_step must be 2..10, got %d", c.Control.GainStep))
	}
	if c.Control.InitialGain < 0.1 || c.Control.InitialGain > 1.0 {
		errs = append(errs, fmt.Errorf("control.initial_gain must be 0.1..1.0, got %v", c.Control.InitialGain))
	}
	if c.Control.LightStep <= 0 {
		errs = append(errs, errors.New("control.light_step must be positive"))
	}
	if c.Control.CameraStep <= 0 {
		errs = append(errs, errors.New("control.camera_step must be positive"))
	}

	return errors.Join(errs...)
}

// CommandAddr is the host:port of the vehicle command channel.
func (m *MAVLinkConfig) CommandAddr() string {
	return fmt.Sprintf("%s:%d", m.Address, m.Port)
}

// JWT Secret aus Environment Variable laden
func (a *AuthConfig) GetJWTSecret() string {
	envVar := a.JWTSecretEnv
	if envVar == "" {
		envVar = "TELEOP_JWT_SECRET"
	}

	secret := os.Getenv(envVar)
	if secret == "" {
		// Development fallback, logged as a warning at startup
		return devJWTSecret
	}
	return secret
}

func (a *AuthConfig) IsProductionReady() bool {
	secret := a.GetJWTSecret()
	return secret != devJWTSecret && len(secret) >= 32
}
