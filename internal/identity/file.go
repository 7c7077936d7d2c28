package identity

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// fileVersion is bumped when the on-disk key format changes.
const fileVersion = 1

// keyFile is the YAML layout of an identity file. Keys are base64.
type keyFile struct {
	Version       int    `yaml:"version"`
	AgentID       string `yaml:"agent_id"`
	SigningSeed   string `yaml:"signing_seed"`
	BoxPrivateKey string `yaml:"box_private_key"`
	AgeSecretKey  string `yaml:"age_secret_key,omitempty"`
}

// Save writes the identity to path with owner-only permissions.
func (i *Identity) Save(path string) error {
	kf := keyFile{
		Version:       fileVersion,
		AgentID:       string(i.id),
		SigningSeed:   base64.StdEncoding.EncodeToString(i.signing.Seed()),
		BoxPrivateKey: base64.StdEncoding.EncodeToString(i.boxPriv[:]),
		AgeSecretKey:  i.ageKey,
	}
	data, err := yaml.Marshal(&kf)
	if err != nil {
		return fmt.Errorf("save identity: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("save identity: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("save identity: %w", err)
	}
	return nil
}

// Load reads an identity written by Save. The stored agent id must match
// the one derived from the keys.
func Load(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}
	var kf keyFile
	if err := yaml.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("load identity %s: %w", path, err)
	}
	if kf.Version != fileVersion {
		return nil, fmt.Errorf("load identity %s: unsupported version %d", path, kf.Version)
	}
	seed, err := base64.StdEncoding.DecodeString(kf.SigningSeed)
	if err != nil {
		return nil, fmt.Errorf("load identity %s: signing_seed: %w", path, err)
	}
	boxKey, err := base64.StdEncoding.DecodeString(kf.BoxPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("load identity %s: box_private_key: %w", path, err)
	}
	id, err := FromKeys(seed, boxKey, kf.AgeSecretKey)
	if err != nil {
		return nil, fmt.Errorf("load identity %s: %w", path, err)
	}
	if kf.AgentID != "" && kf.AgentID != string(id.ID()) {
		return nil, fmt.Errorf("load identity %s: agent_id does not match keys", path)
	}
	return id, nil
}
