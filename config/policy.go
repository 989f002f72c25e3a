package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Policy is the reactor/mods configuration tree (§4.4, §6). It is a
// document, not a flat env-var tree, so it is loaded with gopkg.in/yaml.v3
// rather than envconfig.
type Policy struct {
	// Reactor is nil when the document has no reactor key at all. The bare
	// `reactor: false` form yields a non-nil Reactor with Enabled == false;
	// both refuse modded Hellos and accept ordinary ones.
	Reactor *ReactorPolicy `yaml:"reactor"`
}

// ReactorPolicy controls mod-framework negotiation (§4.4). It unmarshals
// from either a bare boolean or an object, matching the `reactor: true |
// false | {...}` forms in the policy document.
type ReactorPolicy struct {
	// Enabled is false for the bare `reactor: false` form: the mod
	// framework is not offered at all, and a modded Hello is disconnected
	// with "mod framework not enabled". It is true for the bare `true`
	// form and for any object form.
	Enabled bool

	// AllowNormalClients gates ordinary (non-modded) Hellos once Enabled
	// is true. The bare `reactor: true` shorthand sets this to false
	// (mods become mandatory); an object form takes the field as written,
	// defaulting to false like any other omitted YAML bool.
	AllowNormalClients  bool
	RequireHostMods     bool
	BlockClientSideOnly bool
	AllowExtraMods      bool

	Mods map[string]ModPolicyEntry
}

// UnmarshalYAML accepts either a bare bool or an object for the `reactor`
// key. A bare bool only ever sets Enabled/AllowNormalClients; an object
// form implies Enabled and reads the remaining fields directly.
func (r *ReactorPolicy) UnmarshalYAML(value *yaml.Node) error {
	var asBool bool
	if err := value.Decode(&asBool); err == nil {
		r.Enabled = asBool
		r.AllowNormalClients = !asBool
		return nil
	}
	var obj struct {
		AllowNormalClients  bool                       `yaml:"allowNormalClients"`
		RequireHostMods     bool                       `yaml:"requireHostMods"`
		BlockClientSideOnly bool                       `yaml:"blockClientSideOnly"`
		AllowExtraMods      bool                       `yaml:"allowExtraMods"`
		Mods                map[string]ModPolicyEntry  `yaml:"mods"`
	}
	if err := value.Decode(&obj); err != nil {
		return fmt.Errorf("reactor policy: %w", err)
	}
	r.Enabled = true
	r.AllowNormalClients = obj.AllowNormalClients
	r.RequireHostMods = obj.RequireHostMods
	r.BlockClientSideOnly = obj.BlockClientSideOnly
	r.AllowExtraMods = obj.AllowExtraMods
	r.Mods = obj.Mods
	return nil
}

// ModPolicyEntry is one row of the server-wide mod policy table (§4.4). A
// bare boolean in the YAML document (`modA: true`) unmarshals into
// {Allowed: true}; `modA: false` into {Allowed: false, Banned: true}.
type ModPolicyEntry struct {
	Allowed  bool
	Banned   bool
	Optional bool
	Version  string // semver-range; empty means any version
}

// UnmarshalYAML accepts either a bare bool or an object, matching the
// `true | false | object` shape described in §4.4.
func (m *ModPolicyEntry) UnmarshalYAML(value *yaml.Node) error {
	var asBool bool
	if err := value.Decode(&asBool); err == nil {
		m.Allowed = asBool
		m.Banned = !asBool
		return nil
	}
	var obj struct {
		Version  string `yaml:"version"`
		Banned   bool   `yaml:"banned"`
		Optional bool   `yaml:"optional"`
	}
	if err := value.Decode(&obj); err != nil {
		return fmt.Errorf("mod policy entry: %w", err)
	}
	m.Allowed = !obj.Banned
	m.Banned = obj.Banned
	m.Optional = obj.Optional
	m.Version = obj.Version
	return nil
}

// LoadPolicy reads and parses a reactor/mods policy document. An empty path
// returns a zero-value Policy (no mod-framework enforcement).
func LoadPolicy(path string) (Policy, error) {
	if path == "" {
		return Policy{}, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy file: %w", err)
	}
	var p Policy
	if err := yaml.Unmarshal(b, &p); err != nil {
		return Policy{}, fmt.Errorf("parse policy file: %w", err)
	}
	return p, nil
}
