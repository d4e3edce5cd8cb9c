package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/maxischmaxi/chatsnap/internal/logging"
	"github.com/maxischmaxi/chatsnap/internal/tools"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPort            = 3000
	DefaultWindowWidth     = 1920
	DefaultWindowHeight    = 1080
	DefaultUserDataDir     = "./cache"
	DefaultScreenshotDir   = "./screenshots"
	DefaultMessageWindow   = 3
	DefaultTrimThreshold   = 3
	DefaultMinMessageWidth = 500
	DefaultLogDir          = "logs"
)

type Window struct {
	Width      int     `yaml:"width" json:"width"`
	Height     int     `yaml:"height" json:"height"`
	Zoom       float64 `yaml:"zoom" json:"zoom"`
	Fullscreen bool    `yaml:"fullscreen" json:"fullscreen"`
}

type Trim struct {
	// Threshold is nil when unset; 0 is a valid threshold.
	Threshold *int `yaml:"threshold" json:"threshold"`
	MinWidth  int  `yaml:"minWidth" json:"minWidth"`
}

// BackgroundThreshold returns the configured threshold or the default.
func (t Trim) BackgroundThreshold() int {
	if t.Threshold == nil {
		return DefaultTrimThreshold
	}
	return *t.Threshold
}

type Log struct {
	Level       string `yaml:"level" json:"level"`
	Dir         string `yaml:"dir" json:"dir"`
	JSON        bool   `yaml:"json" json:"json"`
	Console     *bool  `yaml:"console" json:"console"`
	Development bool   `yaml:"development" json:"development"`
}

type Config struct {
	Port          int      `yaml:"port" json:"port"`
	Headless      bool     `yaml:"headless" json:"headless"`
	UseNewNav     bool     `yaml:"useNewNav" json:"useNewNav"`
	UserAgent     string   `yaml:"userAgent" json:"userAgent"`
	Timezone      string   `yaml:"timezone" json:"timezone"`
	Window        Window   `yaml:"window" json:"window"`
	UserDataDir   string   `yaml:"userDataDir" json:"userDataDir"`
	Args          []string `yaml:"args" json:"args"`
	ScreenshotDir string   `yaml:"screenshotDir" json:"screenshotDir"`
	ChatToken     string   `yaml:"chatToken" json:"-"`
	JWTSecret     string   `yaml:"jwtSecret" json:"-"`
	UsersFile     string   `yaml:"usersFile" json:"usersFile"`
	MessageWindow int      `yaml:"messageWindow" json:"messageWindow"`
	Trim          Trim     `yaml:"trim" json:"trim"`
	Log           Log      `yaml:"log" json:"log"`
}

// UseChat reports whether chat automation is enabled.
func (c *Config) UseChat() bool { return c.ChatToken != "" }

// Default returns a config populated with defaults only.
func Default() *Config {
	c := &Config{Headless: true}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Window.Width == 0 {
		c.Window.Width = DefaultWindowWidth
	}
	if c.Window.Height == 0 {
		c.Window.Height = DefaultWindowHeight
	}
	if c.Window.Zoom == 0 {
		c.Window.Zoom = 1
	}
	if c.UserDataDir == "" {
		c.UserDataDir = DefaultUserDataDir
	}
	if c.ScreenshotDir == "" {
		c.ScreenshotDir = DefaultScreenshotDir
	}
	if c.MessageWindow == 0 {
		c.MessageWindow = DefaultMessageWindow
	}
	if c.Trim.Threshold == nil {
		threshold := DefaultTrimThreshold
		c.Trim.Threshold = &threshold
	}
	if c.Trim.MinWidth == 0 {
		c.Trim.MinWidth = DefaultMinMessageWidth
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Dir == "" {
		c.Log.Dir = DefaultLogDir
	}
	if c.Log.Console == nil {
		on := true
		c.Log.Console = &on
	}
}

// Load reads the YAML config at path, fills defaults and validates it.
// Relative directories are resolved against the working directory.
func Load(path string) (*Config, error) {
	config := &Config{}

	path, err := tools.ExpandPath(path)
	if err != nil {
		logging.L.Error("failed to expand config path", zap.String("path", path), zap.Error(err))
		return nil, err
	}

	if !tools.FileExists(path) {
		logging.L.Error("config file does not exist", zap.String("path", path))
		return nil, fmt.Errorf("config file does not exist: %s", path)
	}

	f, err := os.Open(path)
	if err != nil {
		logging.L.Error("failed to open config file", zap.String("path", path), zap.Error(err))
		return nil, err
	}
	defer f.Close()

	if err := Decode(f, config); err != nil {
		logging.L.Error("failed to decode config file", zap.String("path", path), zap.Error(err))
		return nil, err
	}

	if config.UsersFile != "" && !filepath.IsAbs(config.UsersFile) {
		config.UsersFile = filepath.Join(filepath.Dir(path), config.UsersFile)
	}

	for _, dir := range []*string{&config.UserDataDir, &config.ScreenshotDir} {
		*dir, err = tools.ExpandPath(*dir)
		if err != nil {
			logging.L.Error("failed to expand directory path", zap.String("path", *dir), zap.Error(err))
			return nil, err
		}
	}

	return config, nil
}

// Decode reads a single YAML document from r into config, rejecting unknown
// fields and trailing documents, then applies defaults and validation.
func Decode(r io.Reader, config *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	if err := dec.Decode(config); err != nil && !errors.Is(err, io.EOF) {
		return err
	}

	if err := tools.EnsureEOF(dec); err != nil {
		return err
	}

	config.applyDefaults()
	return config.Validate()
}

func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		logging.L.Error("invalid port in config", zap.Int("port", c.Port))
		return fmt.Errorf("port must be between 1 and 65535")
	}

	if c.Window.Width <= 0 || c.Window.Height <= 0 {
		logging.L.Error("invalid window size in config", zap.Int("width", c.Window.Width), zap.Int("height", c.Window.Height))
		return fmt.Errorf("window width and height must be positive integers")
	}

	if c.Window.Zoom <= 0 {
		logging.L.Error("invalid zoom in config", zap.Float64("zoom", c.Window.Zoom))
		return fmt.Errorf("window zoom must be positive")
	}

	if c.MessageWindow < 1 {
		logging.L.Error("invalid message window in config", zap.Int("messageWindow", c.MessageWindow))
		return fmt.Errorf("messageWindow must be at least 1")
	}

	if c.Trim.BackgroundThreshold() < 0 || c.Trim.MinWidth < 0 {
		logging.L.Error("invalid trim settings in config", zap.Int("threshold", c.Trim.BackgroundThreshold()), zap.Int("minWidth", c.Trim.MinWidth))
		return fmt.Errorf("trim threshold and minWidth must be non-negative")
	}

	if c.JWTSecret != "" && len(c.JWTSecret) < 32 {
		logging.L.Error("jwt secret too short", zap.Int("length", len(c.JWTSecret)))
		return fmt.Errorf("jwtSecret must be at least 32 bytes")
	}

	return nil
}
