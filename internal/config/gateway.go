package config

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/cexll/pollbot/internal/platform"
	"github.com/cexll/pollbot/internal/platform/github"
	"github.com/cexll/pollbot/internal/platform/reddit"
)

// NewGateway builds the gateway for the configured platform.
func (c *Config) NewGateway(logger *zap.Logger) (platform.Gateway, error) {
	switch c.Platform {
	case PlatformReddit:
		if c.Password == "" {
			return nil, fmt.Errorf("POLLBOT_PASSWORD is required for reddit platform")
		}
		return reddit.NewGateway(reddit.Options{
			BaseURL:           c.APIBaseURL,
			TokenURL:          c.TokenURL,
			RequestsPerMinute: c.RequestsPerMinute,
			Logger:            logger,
		}), nil
	case PlatformGitHub:
		return github.NewGateway(github.Options{
			BaseURL:           c.APIBaseURL,
			RequestsPerMinute: c.RequestsPerMinute,
			ContactRepo:       c.ContactRepo,
			Logger:            logger,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported platform: %s", c.Platform)
	}
}
