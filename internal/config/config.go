// Package config loads the agent's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"noteblockdj.ai/internal/dj"
	"noteblockdj.ai/internal/geom"
)

type Config struct {
	ServerURL       string   `yaml:"server_url"`
	AgentName       string   `yaml:"agent_name"`
	ResumeTokenFile string   `yaml:"resume_token_file"`
	Admins          []string `yaml:"admins"`
	CommandPrefix   string   `yaml:"command_prefix"`
	DataDir         string   `yaml:"data_dir"`
	DisableDB       bool     `yaml:"disable_db"`

	DJ DJConfig `yaml:"dj"`
}

type DJConfig struct {
	SongsDir string `yaml:"songs_dir"`
	// Pos is "x y z" or "x,y,z". Empty plays wherever the agent stands.
	Pos                 string  `yaml:"pos"`
	AdminOnly           bool    `yaml:"admin_only"`
	ResumeAfterIdleSecs int     `yaml:"resume_after_idle_secs"`
	MaxDistance         float64 `yaml:"max_distance"`
}

func Defaults() Config {
	return Config{
		ServerURL:     "ws://127.0.0.1:8080/v1/ws",
		AgentName:     "dj",
		CommandPrefix: "!",
		DataDir:       "./data",
		DJ: DJConfig{
			SongsDir:    "./songs",
			MaxDistance: dj.DefaultMaxDistance,
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) == "" {
		cfg.Normalize()
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return cfg, nil
}

func (c *Config) Normalize() {
	c.ServerURL = strings.TrimSpace(c.ServerURL)
	c.AgentName = strings.TrimSpace(c.AgentName)
	c.CommandPrefix = strings.TrimSpace(c.CommandPrefix)
	if c.CommandPrefix == "" {
		c.CommandPrefix = "!"
	}
	admins := c.Admins[:0]
	for _, a := range c.Admins {
		if a = strings.TrimSpace(a); a != "" {
			admins = append(admins, a)
		}
	}
	c.Admins = admins
	if strings.TrimSpace(c.ResumeTokenFile) == "" && c.DataDir != "" {
		c.ResumeTokenFile = filepath.Join(c.DataDir, "resume_token")
	}
	c.DJ.Pos = strings.TrimSpace(c.DJ.Pos)
	if c.DJ.MaxDistance <= 0 {
		c.DJ.MaxDistance = dj.DefaultMaxDistance
	}
}

func (c Config) Validate() error {
	if c.ServerURL == "" {
		return errors.New("server_url is required")
	}
	if !strings.HasPrefix(c.ServerURL, "ws://") && !strings.HasPrefix(c.ServerURL, "wss://") {
		return fmt.Errorf("server_url must be a ws:// or wss:// url, got %q", c.ServerURL)
	}
	if c.AgentName == "" {
		return errors.New("agent_name is required")
	}
	if strings.ContainsAny(c.CommandPrefix, " \t") {
		return fmt.Errorf("command_prefix must not contain spaces")
	}
	if strings.TrimSpace(c.DJ.SongsDir) == "" {
		return errors.New("dj.songs_dir is required")
	}
	if c.DJ.ResumeAfterIdleSecs < 0 {
		return fmt.Errorf("dj.resume_after_idle_secs must be >= 0")
	}
	if _, err := c.DJ.BlockPos(); err != nil {
		return err
	}
	return nil
}

// BlockPos parses Pos. It returns nil when Pos is empty.
func (d DJConfig) BlockPos() (*geom.BlockPos, error) {
	if d.Pos == "" {
		return nil, nil
	}
	fields := strings.FieldsFunc(d.Pos, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' })
	if len(fields) != 3 {
		return nil, fmt.Errorf("dj.pos: want 3 coordinates, got %q", d.Pos)
	}
	var xyz [3]int
	for i, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("dj.pos: %w", err)
		}
		xyz[i] = v
	}
	pos := geom.BlockPosFromArray(xyz)
	return &pos, nil
}

func (d DJConfig) ResumeAfterIdle() time.Duration {
	return time.Duration(d.ResumeAfterIdleSecs) * time.Second
}

// ReadResumeToken returns the stored token, or "" when there is none.
func ReadResumeToken(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func WriteResumeToken(path, token string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(token+"\n"), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
