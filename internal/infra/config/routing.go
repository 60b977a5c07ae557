package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"call_reminder/internal/app/call"
)

// routingFile is the on-disk form of the audio routing table:
//
//	default: voice_call
//	manufacturers:
//	  HONOR: media
type routingFile struct {
	Default       string            `yaml:"default"`
	Manufacturers map[string]string `yaml:"manufacturers"`
}

// LoadRoutingPolicy reads the audio routing table from path. An empty path
// yields the built-in table.
func LoadRoutingPolicy(path string) (call.RoutingPolicy, error) {
	if path == "" {
		return call.DefaultRoutingPolicy(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return call.RoutingPolicy{}, fmt.Errorf("read audio routing file: %w", err)
	}
	return ParseRoutingPolicy(data)
}

// ParseRoutingPolicy decodes a YAML routing table. A missing default keeps
// the built-in default stream.
func ParseRoutingPolicy(data []byte) (call.RoutingPolicy, error) {
	var f routingFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return call.RoutingPolicy{}, fmt.Errorf("parse audio routing file: %w", err)
	}

	policy := call.RoutingPolicy{
		Default:        call.DefaultRoutingPolicy().Default,
		ByManufacturer: make(map[string]call.AudioStream, len(f.Manufacturers)),
	}
	if f.Default != "" {
		s, err := call.ParseAudioStream(f.Default)
		if err != nil {
			return call.RoutingPolicy{}, fmt.Errorf("default stream: %w", err)
		}
		policy.Default = s
	}
	for vendor, name := range f.Manufacturers {
		s, err := call.ParseAudioStream(name)
		if err != nil {
			return call.RoutingPolicy{}, fmt.Errorf("manufacturer %s: %w", vendor, err)
		}
		policy.ByManufacturer[strings.ToUpper(strings.TrimSpace(vendor))] = s
	}
	return policy, nil
}
