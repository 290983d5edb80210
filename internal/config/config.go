package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// DefaultFile is the dotenv file read when no --config flag is given.
const DefaultFile = ".env"

// Config is the process-wide configuration. It is loaded once at startup and
// never reloaded.
type Config struct {
	BotToken        string        `mapstructure:"bot_token"`
	OwnerID         string        `mapstructure:"chat_id"`
	LEDPin          string        `mapstructure:"led_pin"`
	ReportInterval  time.Duration `mapstructure:"report_interval"`
	ReportTop       int           `mapstructure:"report_top"`
	CameraDevice    string        `mapstructure:"camera_device"`
	CameraWidth     uint32        `mapstructure:"camera_width"`
	CameraHeight    uint32        `mapstructure:"camera_height"`
	CameraCommand   string        `mapstructure:"camera_command"`
	CameraTimeout   time.Duration `mapstructure:"camera_timeout"`
	ShellPath       string        `mapstructure:"shell_path"`
	RebootCommand   string        `mapstructure:"reboot_command"`
	PoweroffCommand string        `mapstructure:"poweroff_command"`
	ConsoleAddr     string        `mapstructure:"console_addr"`
	WatchConfig     bool          `mapstructure:"watch_config"`
	Hostname        string        `mapstructure:"hostname_override"`
	Debug           bool          `mapstructure:"debug"`

	// File is the resolved path of the dotenv file, empty if none was read.
	File string `mapstructure:"-"`
}

// Load reads the dotenv file at path (DefaultFile if empty) and overlays
// environment variables. A missing file is not an error; missing required
// keys are.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read is Load without validation, for commands that never reach the
// transport.
func Read(path string) (*Config, error) {
	if path == "" {
		path = DefaultFile
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("expand config path %q: %w", path, err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(expanded)
	v.SetConfigType("env")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	file := ""
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", expanded, err)
		}
	} else {
		file, _ = filepath.Abs(expanded)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.File = file
	cfg.BotToken = strings.TrimSpace(cfg.BotToken)
	cfg.OwnerID = strings.TrimSpace(cfg.OwnerID)
	return &cfg, nil
}

// setDefaults registers every key so that AutomaticEnv overrides reach
// Unmarshal even when the file does not mention them.
func setDefaults(v *viper.Viper) {
	v.SetDefault("bot_token", "")
	v.SetDefault("chat_id", "")
	v.SetDefault("led_pin", "GPIO17")
	v.SetDefault("report_interval", "1h")
	v.SetDefault("report_top", 5)
	v.SetDefault("camera_device", "/dev/video0")
	v.SetDefault("camera_width", 1280)
	v.SetDefault("camera_height", 720)
	v.SetDefault("camera_command", "fswebcam --no-banner -r 1280x720 --jpeg 90 -")
	v.SetDefault("camera_timeout", "15s")
	v.SetDefault("shell_path", "/bin/sh")
	v.SetDefault("reboot_command", "sudo reboot")
	v.SetDefault("poweroff_command", "sudo poweroff")
	v.SetDefault("console_addr", "")
	v.SetDefault("watch_config", true)
	v.SetDefault("hostname_override", "")
	v.SetDefault("debug", false)
}

// Validate checks the fatal startup conditions.
func (c *Config) Validate() error {
	var missing []string
	if c.BotToken == "" {
		missing = append(missing, "BOT_TOKEN")
	}
	if c.OwnerID == "" {
		missing = append(missing, "CHAT_ID")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	if c.ReportInterval < 0 {
		return fmt.Errorf("REPORT_INTERVAL must not be negative")
	}
	if c.ReportTop < 1 {
		return fmt.Errorf("REPORT_TOP must be at least 1")
	}
	if c.CameraDevice != "" && (c.CameraWidth == 0 || c.CameraHeight == 0) {
		return fmt.Errorf("CAMERA_WIDTH and CAMERA_HEIGHT must be positive")
	}
	return nil
}
