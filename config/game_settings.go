package config

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/nullspace-labs/lobby-relay/state"
)

// gameSettingsDoc is the YAML shape of a room's settings blob. The core
// reads MaxPlayers/Map/ImpostorCount/Keyword for its own enforcement and
// filtering duties (§3, §4.6); everything else round-trips through Extra
// untouched, keeping the blob genuinely opaque beyond those four fields.
type gameSettingsDoc struct {
	MaxPlayers    uint8          `yaml:"maxPlayers"`
	Map           uint8          `yaml:"map"`
	ImpostorCount uint8          `yaml:"impostorCount"`
	Keyword       string         `yaml:"keyword"`
	Extra         map[string]any `yaml:",inline"`
}

// DecodeGameSettings parses a HostGame/AlterGame settings blob.
func DecodeGameSettings(raw []byte) (state.GameSettings, error) {
	var doc gameSettingsDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return state.GameSettings{}, fmt.Errorf("decode game settings: %w", err)
	}
	return state.GameSettings{
		MaxPlayers:    doc.MaxPlayers,
		MapID:         doc.Map,
		ImpostorCount: doc.ImpostorCount,
		KeywordFilter: doc.Keyword,
		Raw:           raw,
		Extra:         doc.Extra,
	}, nil
}

// EncodeGameSettings serializes settings back to the YAML blob carried on
// the wire, preserving Extra.
func EncodeGameSettings(s state.GameSettings) ([]byte, error) {
	doc := gameSettingsDoc{
		MaxPlayers:    s.MaxPlayers,
		Map:           s.MapID,
		ImpostorCount: s.ImpostorCount,
		Keyword:       s.KeywordFilter,
		Extra:         s.Extra,
	}
	b, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode game settings: %w", err)
	}
	return b, nil
}
