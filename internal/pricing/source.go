package pricing

import (
	"errors"
	"fmt"
	"io/fs"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// StaticSource serves a fixed policy.
type StaticSource struct {
	cfg Config
}

func NewStaticSource(cfg Config) *StaticSource {
	return &StaticSource{cfg: cfg}
}

func (s *StaticSource) Current() Config { return s.cfg }

// FileSource serves the policy from a pricing.yml file and reloads it when the
// file changes. An invalid reload is ignored and the previous policy stays.
type FileSource struct {
	current atomic.Value // holds Config
	log     zerolog.Logger
}

// NewFileSource reads the pricing file at path. A missing file falls back to
// DefaultConfig; a malformed or invalid one is an error.
func NewFileSource(path string, log zerolog.Logger) (*FileSource, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("pricing")
		v.AddConfigPath("/etc/questionbank")
		v.AddConfigPath(".")
	}
	setDefaults(v, DefaultConfig())

	s := &FileSource{log: log}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read pricing config: %w", err)
		}
		log.Warn().Str("path", path).Msg("pricing config not found, using built-in defaults")
		s.current.Store(DefaultConfig())
		return s, nil
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	s.current.Store(cfg)

	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decode(v)
		if err != nil {
			s.log.Error().Err(err).Str("file", e.Name).Msg("pricing reload rejected")
			return
		}
		s.current.Store(updated)
		s.log.Info().Str("file", e.Name).Msg("pricing reloaded")
	})
	v.WatchConfig()

	return s, nil
}

func (s *FileSource) Current() Config {
	return s.current.Load().(Config)
}

func decode(v *viper.Viper) (Config, error) {
	// Unmarshal works on AllSettings, so keys missing from the file still get
	// their defaults.
	var file struct {
		Pricing Config `mapstructure:"pricing"`
	}
	if err := v.Unmarshal(&file); err != nil {
		return Config{}, fmt.Errorf("failed to decode pricing config: %w", err)
	}
	if err := file.Pricing.Validate(); err != nil {
		return Config{}, err
	}
	return file.Pricing, nil
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("pricing.default", map[string]any{
		"id":     cfg.Default.ModelID,
		"input":  cfg.Default.Input,
		"output": cfg.Default.Output,
	})
	v.SetDefault("pricing.paid_tier_multiplier", cfg.PaidTierMultiplier)
	v.SetDefault("pricing.legacy_tier_multiplier", cfg.LegacyTierMultiplier)
	v.SetDefault("pricing.trial_allowance", cfg.TrialAllowance)
}
