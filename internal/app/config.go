package app

import (
	"fmt"

	"marketbot/internal/config"
)

// Overrides are settings supplied outside marketbot.yml, usually from the environment.
// Empty fields leave the file value alone.
type Overrides struct {
	DiscordToken string
	DiscordAppID string
	HTTPAddr     string
	JWTSecret    string
	LogLevel     string
}

// ResolveConfig loads the workspace config, falling back to the defaults when no file
// exists, and applies overrides on top.
func ResolveConfig(workspace string, o Overrides) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.DiscordToken != "" {
		cfg.Discord.Token = o.DiscordToken
	}
	if o.DiscordAppID != "" {
		cfg.Discord.AppID = o.DiscordAppID
	}
	if o.HTTPAddr != "" {
		cfg.HTTP.Addr = o.HTTPAddr
	}
	if o.JWTSecret != "" {
		cfg.HTTP.JWTSecret = o.JWTSecret
	}
	if o.LogLevel != "" {
		cfg.Log.Level = o.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
