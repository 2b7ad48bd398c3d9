package progress

import (
	"fmt"
	"strings"
	"time"

	"github.com/btwld/docling-sdk-sub000/internal/registry"
	"github.com/btwld/docling-sdk-sub000/internal/wschannel"
)

// Mode selects which channels drive monitoring
type Mode string

const (
	// ModePush uses the websocket only, a failed connect fails the job
	ModePush Mode = "push"
	// ModePull polls only
	ModePull Mode = "pull"
	// ModeHybrid prefers the websocket and falls back to polling
	ModeHybrid Mode = "hybrid"
)

// ParseMode converts a configuration value, empty means hybrid
func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ModeHybrid:
		return ModeHybrid, nil
	case ModePush:
		return ModePush, nil
	case ModePull:
		return ModePull, nil
	default:
		return "", fmt.Errorf("unknown tracking mode %q (expected push, pull or hybrid)", raw)
	}
}

// Config configures tracking of one job
type Config struct {
	Mode           Mode
	ConnectTimeout time.Duration
	// SilenceWindow is the longest tolerated gap between push updates, zero means ConnectTimeout
	SilenceWindow time.Duration
	Polling       registry.Options
	Channel       wschannel.Options
}

// DefaultConfig returns hybrid tracking with the component defaults
func DefaultConfig() Config {
	return Config{
		Mode:           ModeHybrid,
		ConnectTimeout: 5 * time.Second,
		Polling:        registry.DefaultOptions(),
		Channel:        wschannel.DefaultOptions(),
	}
}

func (c Config) silenceWindow() time.Duration {
	if c.SilenceWindow > 0 {
		return c.SilenceWindow
	}
	return c.ConnectTimeout
}
