package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/vault/pkg/contracts"
	"github.com/Mindburn-Labs/vault/pkg/governance"
)

// SupportedVersions is the bootstrap document versions this build reads.
const SupportedVersions = "^1.0"

const schemaURL = "https://vault.schemas.local/bootstrap.schema.json"

//go:embed vault.schema.json
var vaultSchema string

var compileSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(schemaURL, bytes.NewReader([]byte(vaultSchema))); err != nil {
		return nil, fmt.Errorf("bootstrap schema load failed: %w", err)
	}
	s, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap schema compile failed: %w", err)
	}
	return s, nil
})

// VaultFile is the vault bootstrap document.
type VaultFile struct {
	Version   string                     `yaml:"version" json:"version"`
	Admin     string                     `yaml:"admin,omitempty" json:"admin,omitempty"`
	Vault     contracts.Config           `yaml:"vault" json:"vault"`
	Roles     map[string]string          `yaml:"roles,omitempty" json:"roles,omitempty"`
	Insurance *contracts.InsuranceConfig `yaml:"insurance,omitempty" json:"insurance,omitempty"`
	ListMode  contracts.ListMode         `yaml:"list_mode,omitempty" json:"list_mode,omitempty"`
	Whitelist []string                   `yaml:"whitelist,omitempty" json:"whitelist,omitempty"`
	Blacklist []string                   `yaml:"blacklist,omitempty" json:"blacklist,omitempty"`
	Bridge    *contracts.BridgeConfig    `yaml:"bridge,omitempty" json:"bridge,omitempty"`
}

// LoadVault reads and validates the bootstrap document at path.
func LoadVault(path string) (*VaultFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load vault config %q: %w", path, err)
	}
	vf, err := ParseVault(data)
	if err != nil {
		return nil, fmt.Errorf("vault config %q: %w", path, err)
	}
	return vf, nil
}

// ParseVault validates data against the bootstrap schema and version
// constraint, then decodes it.
func ParseVault(data []byte) (*VaultFile, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	// Round-trip through JSON so the validator sees json.Number values.
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}
	schema, err := compileSchema()
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(inst); err != nil {
		return nil, fmt.Errorf("%w: schema validation failed: %w", contracts.ErrInvalidConfig, err)
	}

	var vf VaultFile
	if err := yaml.Unmarshal(data, &vf); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := checkVersion(vf.Version); err != nil {
		return nil, err
	}
	return &vf, nil
}

func checkVersion(v string) error {
	constraint, err := semver.NewConstraint(SupportedVersions)
	if err != nil {
		return err
	}
	version, err := semver.NewVersion(v)
	if err != nil {
		return fmt.Errorf("%w: invalid version %q: %w", contracts.ErrInvalidConfig, v, err)
	}
	if !constraint.Check(version) {
		return fmt.Errorf("%w: document version %s does not satisfy %s", contracts.ErrInvalidConfig, v, SupportedVersions)
	}
	return nil
}

// ParseRole maps a role name to its value.
func ParseRole(name string) (contracts.Role, error) {
	for _, r := range []contracts.Role{contracts.RoleMember, contracts.RoleTreasurer, contracts.RoleAdmin} {
		if r.String() == name {
			return r, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown role %q", contracts.ErrInvalidConfig, name)
}

// InitConfig converts the document into the engine's initialization input.
func (vf *VaultFile) InitConfig() (governance.InitConfig, error) {
	ic := governance.InitConfig{
		Config:    vf.Vault,
		Insurance: vf.Insurance,
		ListMode:  vf.ListMode,
		Whitelist: vf.Whitelist,
		Blacklist: vf.Blacklist,
		Bridge:    vf.Bridge,
	}
	if len(vf.Roles) > 0 {
		ic.Roles = make(map[string]contracts.Role, len(vf.Roles))
		for addr, name := range vf.Roles {
			role, err := ParseRole(name)
			if err != nil {
				return governance.InitConfig{}, err
			}
			ic.Roles[addr] = role
		}
	}
	return ic, nil
}
