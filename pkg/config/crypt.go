package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// MasterKeySize is the length in bytes of the decoded master key.
const MasterKeySize = 32

// FieldMode selects how a configured field is protected.
type FieldMode string

const (
	// ModeRandomized encrypts with a random nonce; values cannot be queried.
	ModeRandomized FieldMode = "randomized"
	// ModeDeterministic encrypts with a nonce derived from the value so equal
	// plaintexts produce equal ciphertexts.
	ModeDeterministic FieldMode = "deterministic"
	// ModeHash replaces the value with a keyed digest. It is one way.
	ModeHash FieldMode = "hash"
)

// Queryable reports whether stored values of this mode can be matched by equality.
func (m FieldMode) Queryable() bool {
	return m == ModeDeterministic || m == ModeHash
}

// FieldSpec binds a dotted document path to a protection mode.
type FieldSpec struct {
	Path string    `yaml:"path" json:"path"`
	Mode FieldMode `yaml:"mode" json:"mode"`
}

// CryptConfig is the field-level encryption configuration carried by a Snapshot.
type CryptConfig struct {
	Key    string      `yaml:"key,omitempty" json:"key,omitempty"`
	KeyEnv string      `yaml:"key_env,omitempty" json:"key_env,omitempty"`
	Fields []FieldSpec `yaml:"fields" json:"fields"`

	masterKey []byte
	index     map[string]FieldSpec
}

// ParseCryptConfig decodes YAML (or JSON) crypt configuration, resolves the
// master key and validates the field list.
func ParseCryptConfig(data []byte) (*CryptConfig, error) {
	var cfg CryptConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse crypt config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate normalises field modes, rejects duplicates and resolves the master key.
func (c *CryptConfig) Validate() error {
	key, err := c.resolveKey()
	if err != nil {
		return err
	}

	index := make(map[string]FieldSpec, len(c.Fields))
	for i := range c.Fields {
		field := &c.Fields[i]
		field.Path = strings.TrimSpace(field.Path)
		if field.Path == "" {
			return NewConfigMissingError(fmt.Sprintf("fields[%d].path", i))
		}
		if strings.HasPrefix(field.Path, ".") || strings.HasSuffix(field.Path, ".") || strings.Contains(field.Path, "..") {
			return NewConfigValidationError(fmt.Sprintf("fields[%d].path", i), field.Path, "path segments must not be empty")
		}
		if strings.HasPrefix(field.Path, "$") {
			return NewConfigValidationError(fmt.Sprintf("fields[%d].path", i), field.Path, "path must not start with '$'")
		}

		mode := FieldMode(strings.ToLower(strings.TrimSpace(string(field.Mode))))
		switch mode {
		case "":
			mode = ModeRandomized
		case ModeRandomized, ModeDeterministic, ModeHash:
		default:
			return NewConfigValidationError(fmt.Sprintf("fields[%d].mode", i), field.Mode, "unknown mode").
				WithSuggestion("Use one of: randomized, deterministic, hash")
		}
		field.Mode = mode

		if _, dup := index[field.Path]; dup {
			return NewConfigValidationError(fmt.Sprintf("fields[%d].path", i), field.Path, "duplicate field path")
		}
		index[field.Path] = *field
	}

	for path := range index {
		for other := range index {
			if strings.HasPrefix(other, path+".") {
				return NewConfigValidationError("fields", other,
					fmt.Sprintf("path is nested under configured path %q", path)).
					WithSuggestion("Configure either the parent path or the nested paths, not both")
			}
		}
	}

	c.masterKey = key
	c.index = index
	return nil
}

func (c *CryptConfig) resolveKey() ([]byte, error) {
	encoded := strings.TrimSpace(c.Key)
	source := "key"
	if encoded == "" && c.KeyEnv != "" {
		encoded = strings.TrimSpace(os.Getenv(c.KeyEnv))
		source = "key_env"
		if encoded == "" {
			return nil, NewConfigValidationError("key_env", c.KeyEnv, "environment variable is empty or unset")
		}
	}
	if encoded == "" {
		return nil, NewConfigMissingError("key").
			WithSuggestion("Provide a base64 encoded 32 byte master key in 'key' or name an environment variable in 'key_env'")
	}

	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, NewConfigValidationError(source, "<redacted>", "master key is not valid base64")
	}
	if len(key) != MasterKeySize {
		return nil, NewConfigValidationError(source, "<redacted>",
			fmt.Sprintf("master key must decode to %d bytes, got %d", MasterKeySize, len(key)))
	}
	return key, nil
}

// MasterKey returns a copy of the resolved master key. It is nil until Validate succeeds.
func (c *CryptConfig) MasterKey() []byte {
	if c == nil || c.masterKey == nil {
		return nil
	}
	out := make([]byte, len(c.masterKey))
	copy(out, c.masterKey)
	return out
}

// Field looks up the spec for an exact dotted path.
func (c *CryptConfig) Field(path string) (FieldSpec, bool) {
	if c == nil {
		return FieldSpec{}, false
	}
	spec, ok := c.index[path]
	return spec, ok
}
