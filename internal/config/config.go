package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"siteline/internal/domain"
)

// Config models siteline.yml.
type Config struct {
	Site struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"site"`
	Checklists map[string]Checklist `yaml:"checklists"`
	RBAC       struct {
		Roles map[string]RBACRole `yaml:"roles"`
	} `yaml:"rbac"`
	Policies struct {
		Remediation struct {
			VerifyRoles []string `yaml:"verify_roles"`
		} `yaml:"remediation"`
	} `yaml:"policies"`
	Store struct {
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"store"`
	Feed struct {
		CacheSize int `yaml:"cache_size"`
	} `yaml:"feed"`
	Notifications struct {
		RedisAddr string `yaml:"redis_addr"`
		RedisDB   int    `yaml:"redis_db"`
		KeyPrefix string `yaml:"key_prefix"`
	} `yaml:"notifications"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// Checklist is a named set of checkpoint templates.
type Checklist struct {
	Description string                      `yaml:"description"`
	Checkpoints []domain.CheckpointTemplate `yaml:"checkpoints"`
}

type RBACRole struct {
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

const defaultStoreTimeout = 5 * time.Second

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; generate one with sl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional falls back to the default config when the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Site.ID == "" {
		return fmt.Errorf("config.site.id is required")
	}
	for name, cl := range c.Checklists {
		if name == "" {
			return fmt.Errorf("config.checklists contains empty name")
		}
		if len(cl.Checkpoints) == 0 {
			return fmt.Errorf("checklist %s has no checkpoints", name)
		}
		seen := map[string]bool{}
		for _, cp := range cl.Checkpoints {
			if cp.ID == "" || cp.Title == "" {
				return fmt.Errorf("checklist %s has checkpoint without id or title", name)
			}
			if seen[cp.ID] {
				return fmt.Errorf("checklist %s repeats checkpoint %s", name, cp.ID)
			}
			seen[cp.ID] = true
		}
	}
	if len(c.RBAC.Roles) == 0 {
		return fmt.Errorf("config.rbac.roles is required")
	}
	for roleID, role := range c.RBAC.Roles {
		if !domain.Role(roleID).IsValid() {
			return fmt.Errorf("config.rbac.roles has unknown role %s", roleID)
		}
		for _, perm := range role.Permissions {
			if perm == "" {
				return fmt.Errorf("role %s has empty permission id", roleID)
			}
		}
	}
	for _, r := range c.Policies.Remediation.VerifyRoles {
		if !domain.Role(r).IsValid() {
			return fmt.Errorf("policies.remediation.verify_roles has unknown role %s", r)
		}
	}
	if c.Store.Timeout < 0 {
		return fmt.Errorf("store.timeout must not be negative")
	}
	if c.Feed.CacheSize < 0 {
		return fmt.Errorf("feed.cache_size must not be negative")
	}
	return nil
}

// StoreTimeout is the per-operation deadline for store calls.
func (c *Config) StoreTimeout() time.Duration {
	if c == nil || c.Store.Timeout == 0 {
		return defaultStoreTimeout
	}
	return c.Store.Timeout
}

// Checklist returns the templates of a named checklist.
func (c *Config) Checklist(name string) ([]domain.CheckpointTemplate, bool) {
	cl, ok := c.Checklists[name]
	if !ok {
		return nil, false
	}
	return cl.Checkpoints, true
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "siteline.yml")
}

// GenerateDefault returns the default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `site:
  id: default
  name: Default site

checklists:
  concrete.pour:
    description: "Cast-in-place concrete before and during pour"
    checkpoints:
      - id: formwork
        title: "Formwork geometry and bracing"
        standard_reference: "SP 70.13330 5.2"
      - id: rebar
        title: "Reinforcement spacing and cover"
        standard_reference: "SP 70.13330 5.16"
      - id: embeds
        title: "Embedded parts positioned and fixed"
        standard_reference: "SP 70.13330 5.17"
      - id: mix
        title: "Mix delivery tickets match design class"
        standard_reference: "GOST 7473"
  masonry:
    description: "Brick and block masonry"
    checkpoints:
      - id: joints
        title: "Mortar joint thickness and fill"
        standard_reference: "SP 70.13330 9.2"
      - id: plumb
        title: "Wall plumb and alignment"
        standard_reference: "SP 70.13330 9.18"
      - id: ties
        title: "Wall ties and reinforcement mesh"
        standard_reference: "SP 15.13330 9.4"
  roofing:
    description: "Roof membrane and flashing"
    checkpoints:
      - id: substrate
        title: "Substrate dry and primed"
        standard_reference: "SP 71.13330 5.1"
      - id: overlaps
        title: "Membrane overlaps and seams"
        standard_reference: "SP 71.13330 5.5"
      - id: flashing
        title: "Parapet and penetration flashing"
        standard_reference: "SP 17.13330 6.4"

rbac:
  roles:
    client:
      description: "Owner side; inspects and verifies"
      permissions:
        - work.create
        - work.read
        - feed.read
        - chat.post
        - inspection.create
        - inspection.edit
        - inspection.submit
        - inspection.complete
        - inspection.rework
        - remediation.verify
        - defects.export
    admin:
      description: "Site administrator"
      permissions:
        - work.create
        - work.read
        - feed.read
        - report.create
        - chat.post
        - inspection.create
        - inspection.edit
        - inspection.submit
        - inspection.complete
        - inspection.rework
        - remediation.submit
        - remediation.verify
        - defects.export
        - rbac.manage
    contractor:
      description: "Performs and remediates work"
      permissions:
        - work.read
        - feed.read
        - report.create
        - chat.post
        - remediation.submit

policies:
  remediation:
    verify_roles: [client, admin]

store:
  timeout: 5s

feed:
  cache_size: 256

notifications:
  redis_addr: ""
  redis_db: 0
  key_prefix: "siteline:seen:"

logging:
  level: info
  format: json
`
