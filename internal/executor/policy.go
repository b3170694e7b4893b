package executor

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/querypilot/querypilot/internal/config"
	"gopkg.in/yaml.v3"
)

// Policy bounds what the executor lets through to the warehouse.
type Policy struct {
	AllowedVerbs []string `yaml:"allowed_verbs"`
	Denylist     []string `yaml:"denylist"`
	// MaxBytesBilled is the ceiling for every request; requests may only
	// lower it.
	MaxBytesBilled int64         `yaml:"max_bytes_billed"`
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	MaxTimeout     time.Duration `yaml:"max_timeout"`
	MaxRows        int           `yaml:"max_rows"`
}

// RequiredDenylist is blocked under every policy. Policy files can only add
// keywords to it.
var RequiredDenylist = []string{"DROP", "DELETE", "UPDATE", "INSERT", "CREATE", "ALTER", "TRUNCATE", "EXEC"}

func DefaultPolicy() Policy {
	return Policy{
		AllowedVerbs:   []string{"SELECT", "WITH"},
		Denylist:       append(append([]string(nil), RequiredDenylist...), "MERGE", "GRANT", "REVOKE", "CALL"),
		MaxBytesBilled: 10 << 30,
		DefaultTimeout: 30 * time.Second,
		MaxTimeout:     5 * time.Minute,
		MaxRows:        1000,
	}
}

// LoadPolicy reads a YAML policy file over the defaults. Unknown keys are
// rejected.
func LoadPolicy(path string) (Policy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read executor policy: %w", err)
	}
	return ParsePolicy(raw)
}

func ParsePolicy(raw []byte) (Policy, error) {
	policy := DefaultPolicy()
	decoder := yaml.NewDecoder(bytes.NewReader(raw))
	decoder.KnownFields(true)
	if err := decoder.Decode(&policy); err != nil && !errors.Is(err, io.EOF) {
		return Policy{}, fmt.Errorf("parse executor policy: %w", err)
	}
	policy.AllowedVerbs = upperAll(policy.AllowedVerbs)
	policy.Denylist = withRequired(upperAll(policy.Denylist))
	if err := policy.Validate(); err != nil {
		return Policy{}, err
	}
	return policy, nil
}

// PolicyFromConfig starts from the policy file, or the defaults when none is
// set, and applies the positive overrides of cfg.
func PolicyFromConfig(cfg config.ExecutorConfig) (Policy, error) {
	policy := DefaultPolicy()
	if strings.TrimSpace(cfg.PolicyFile) != "" {
		loaded, err := LoadPolicy(cfg.PolicyFile)
		if err != nil {
			return Policy{}, err
		}
		policy = loaded
	}
	if cfg.MaxBytesBilled > 0 {
		policy.MaxBytesBilled = cfg.MaxBytesBilled
	}
	if cfg.DefaultTimeout > 0 {
		policy.DefaultTimeout = cfg.DefaultTimeout
	}
	if cfg.MaxTimeout > 0 {
		policy.MaxTimeout = cfg.MaxTimeout
	}
	if cfg.MaxRows > 0 {
		policy.MaxRows = cfg.MaxRows
	}
	if err := policy.Validate(); err != nil {
		return Policy{}, err
	}
	return policy, nil
}

var readOnlyVerbs = map[string]struct{}{
	"SELECT": {}, "WITH": {}, "SHOW": {}, "DESCRIBE": {}, "EXPLAIN": {},
}

func (p Policy) Validate() error {
	if len(p.AllowedVerbs) == 0 {
		return fmt.Errorf("executor policy: allowed_verbs must not be empty")
	}
	for _, verb := range p.AllowedVerbs {
		if _, ok := readOnlyVerbs[strings.ToUpper(verb)]; !ok {
			return fmt.Errorf("executor policy: verb %q is not read-only", verb)
		}
	}
	if p.MaxBytesBilled < 0 {
		return fmt.Errorf("executor policy: max_bytes_billed must be >= 0")
	}
	if p.DefaultTimeout <= 0 || p.MaxTimeout <= 0 {
		return fmt.Errorf("executor policy: timeouts must be > 0")
	}
	if p.DefaultTimeout > p.MaxTimeout {
		return fmt.Errorf("executor policy: default_timeout must be <= max_timeout")
	}
	if p.MaxRows <= 0 {
		return fmt.Errorf("executor policy: max_rows must be > 0")
	}
	return nil
}

func withRequired(denylist []string) []string {
	out := append([]string(nil), RequiredDenylist...)
	for _, kw := range denylist {
		if !slices.Contains(out, kw) {
			out = append(out, kw)
		}
	}
	return out
}

func upperAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.ToUpper(strings.TrimSpace(v)); v != "" {
			out = append(out, v)
		}
	}
	return out
}
