package testutil

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Script describes a compositor session: the globals announced during
// discovery and the events delivered afterwards.
//
//	globals:
//	  - {name: 1, interface: wl_seat, version: 9}
//	  - {name: 2, interface: ext_idle_notifier_v1, version: 1}
//	events: [idled, resumed, sever]
type Script struct {
	Globals []Global `yaml:"globals"`
	Events  []Event  `yaml:"events"`
}

// ParseScript decodes a YAML compositor script.
func ParseScript(data []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse compositor script: %w", err)
	}

	for i, ev := range s.Events {
		switch ev {
		case EventIdled, EventResumed, EventSever:
		default:
			return nil, fmt.Errorf("event %d: unknown event %q", i, ev)
		}
	}
	for i, g := range s.Globals {
		if g.Interface == "" {
			return nil, fmt.Errorf("global %d: interface is required", i)
		}
	}

	return &s, nil
}

// LoadScript reads a YAML compositor script from path.
func LoadScript(path string) (*Script, error) {
	// #nosec G304 - test fixtures only
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseScript(data)
}

// Compositor builds a FakeCompositor with the script's events already queued.
func (s *Script) Compositor() *FakeCompositor {
	c := NewFakeCompositor(s.Globals...)
	c.Emit(s.Events...)
	return c
}
