package mapping

import (
	"fmt"
	"os"
	"reflect"

	"gopkg.in/yaml.v3"
)

// Config holds externally declared mapping overrides, loaded from YAML and
// applied on top of struct tags during entity construction:
//
//	entities:
//	  - type: User
//	    name: app_users
//	    properties:
//	      Email:
//	        name: email_address
//	        immutable: true
//	      Secret:
//	        transient: true
type Config struct {
	Entities []EntityConfig `yaml:"entities"`
}

// EntityConfig overrides one entity. Type matches the Go type name, either
// short ("User") or package-qualified ("example.com/app.User").
type EntityConfig struct {
	Type       string                    `yaml:"type"`
	Name       string                    `yaml:"name"`
	Properties map[string]PropertyConfig `yaml:"properties"`
}

// PropertyConfig overrides one property, keyed by Go field name. Pointer
// fields distinguish "not set" from an explicit false or empty value.
type PropertyConfig struct {
	Name      string  `yaml:"name"`
	Transient *bool   `yaml:"transient"`
	Immutable *bool   `yaml:"immutable"`
	Audit     *string `yaml:"audit"`
}

// LoadConfig reads and parses a mapping configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mapping config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses a YAML mapping configuration document.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	seen := make(map[string]bool, len(c.Entities))
	for i, ec := range c.Entities {
		if ec.Type == "" {
			return fmt.Errorf("%w: entities[%d] has no type", ErrConfig, i)
		}
		if seen[ec.Type] {
			return fmt.Errorf("%w: duplicate entity %q", ErrConfig, ec.Type)
		}
		seen[ec.Type] = true
		for name, pc := range ec.Properties {
			if pc.Audit != nil {
				if _, ok := auditRoleFromString(*pc.Audit); !ok {
					return fmt.Errorf("%w: entity %q property %q: unknown audit role %q",
						ErrConfig, ec.Type, name, *pc.Audit)
				}
			}
		}
	}
	return nil
}

// forType returns the override block for t, preferring a package-qualified
// match over a short-name match. Nil-safe.
func (c *Config) forType(t reflect.Type) *EntityConfig {
	if c == nil {
		return nil
	}
	qualified := ""
	if t.PkgPath() != "" {
		qualified = t.PkgPath() + "." + t.Name()
	}
	var short *EntityConfig
	for i := range c.Entities {
		ec := &c.Entities[i]
		if qualified != "" && ec.Type == qualified {
			return ec
		}
		if ec.Type == t.Name() && short == nil {
			short = ec
		}
	}
	return short
}
