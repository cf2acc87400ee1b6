// Package config loads client settings from SWARMGET_* environment
// variables layered over defaults.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/WendelHime/swarmget/internal/shared/models"
	"github.com/go-viper/mapstructure/v2"
)

const EnvPrefix = "SWARMGET_"

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	// PeerID is sent in handshakes and tracker announces; exactly 20 bytes.
	PeerID string `mapstructure:"peer_id"`
	// Port is the port announced to the tracker.
	Port        int           `mapstructure:"port"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	// MaxPieceAttempts abandons a piece after that many failures; 0 retries
	// forever.
	MaxPieceAttempts int    `mapstructure:"max_piece_attempts"`
	LogFile          string `mapstructure:"log_file"`
	LogLevel         string `mapstructure:"log_level"`
}

func Default() Config {
	return Config{
		Port:        6881,
		DialTimeout: 3 * time.Second,
		LogFile:     "log.txt",
		LogLevel:    "error",
	}
}

// Load reads environ (as returned by os.Environ) on top of Default. A peer id
// is generated when none is set.
func Load(environ []string) (Config, error) {
	values := make(map[string]any)
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, EnvPrefix) {
			continue
		}
		values[strings.ToLower(strings.TrimPrefix(key, EnvPrefix))] = value
	}

	cfg := Default()
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           &cfg,
	})
	if err != nil {
		return Config{}, err
	}
	if err := dec.Decode(values); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if cfg.PeerID == "" {
		cfg.PeerID = GeneratePeerID()
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if len(c.PeerID) != 20 {
		return fmt.Errorf("%w: peer id must be 20 bytes, got %d", ErrInvalidConfig, len(c.PeerID))
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port)
	}
	if c.DialTimeout < 0 {
		return fmt.Errorf("%w: negative dial timeout", ErrInvalidConfig)
	}
	if c.MaxPieceAttempts < 0 {
		return fmt.Errorf("%w: negative max piece attempts", ErrInvalidConfig)
	}
	if _, err := c.Level(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func (c Config) Level() (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(c.LogLevel))
	return level, err
}

func (c Config) PeerIDBytes() models.PeerID {
	var id models.PeerID
	copy(id[:], c.PeerID)
	return id
}

// GeneratePeerID returns an Azureus-style id: client tag then random
// alphanumerics.
func GeneratePeerID() string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	const prefix = "-SG0001-"

	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	peerID := []byte(prefix)
	for len(peerID) < 20 {
		peerID = append(peerID, charset[r.Intn(len(charset))])
	}
	return string(peerID)
}
