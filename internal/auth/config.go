package auth

import (
	"fmt"
	"os"

	"chatdeck/internal/models"

	"gopkg.in/yaml.v3"
)

// Config is the structured auth file consumed at startup: the set of known
// users with bcrypt password hashes and role assignments, plus the cookie
// signing secret and expiry.
type Config struct {
	Credentials struct {
		Usernames map[string]Credential `yaml:"usernames"`
	} `yaml:"credentials"`
	Cookie CookieConfig `yaml:"cookie"`
}

// Credential is one user entry in the auth config file.
type Credential struct {
	Name         string   `yaml:"name"`
	PasswordHash string   `yaml:"password"`
	Roles        []string `yaml:"roles"`
}

// CookieConfig carries the auth cookie name, signing key, and lifetime.
type CookieConfig struct {
	Name       string `yaml:"name"`
	Key        string `yaml:"key"`
	ExpiryDays int    `yaml:"expiry_days"`
}

// Role resolves the effective role for the credential. The first recognized
// role wins; users with no recognized role fall back to viewer.
func (c Credential) Role() models.Role {
	for _, r := range c.Roles {
		role := models.Role(r)
		if role.Valid() {
			return role
		}
	}
	return models.RoleViewer
}

// LoadConfig reads and validates the auth config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read auth config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode auth config: %w", err)
	}
	if len(cfg.Credentials.Usernames) == 0 {
		return nil, fmt.Errorf("auth config has no users")
	}
	if cfg.Cookie.Key == "" {
		return nil, fmt.Errorf("cookie signing key must be configured")
	}
	if cfg.Cookie.Name == "" {
		cfg.Cookie.Name = "chatdeck_auth"
	}
	if cfg.Cookie.ExpiryDays <= 0 {
		cfg.Cookie.ExpiryDays = 30
	}
	return &cfg, nil
}
