package history

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Document is the on-disk shape of a recorded history.
type Document struct {
	InstanceID string    `json:"instanceId,omitempty" yaml:"instanceId,omitempty"`
	Events     []*Event  `json:"events" yaml:"events"`
	Actions    []*Action `json:"actions,omitempty" yaml:"actions,omitempty"`
}

// MarshalEvents encodes events as a JSON array.
func MarshalEvents(events []*Event) ([]byte, error) {
	if events == nil {
		events = []*Event{}
	}
	return json.Marshal(events)
}

// MarshalActions encodes actions as indented JSON.
func MarshalActions(actions []*Action) ([]byte, error) {
	if actions == nil {
		actions = []*Action{}
	}
	return json.MarshalIndent(actions, "", "  ")
}

// UnmarshalEvents decodes a JSON array of events.
func UnmarshalEvents(data []byte) ([]*Event, error) {
	var events []*Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	return events, nil
}

// ParseDocument decodes a history document from JSON or YAML. A bare list of
// events is accepted as well.
func ParseDocument(data []byte) (*Document, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return &Document{}, nil
	}

	var doc Document
	if isJSON(trimmed) {
		if trimmed[0] == '[' {
			events, err := UnmarshalEvents(trimmed)
			if err != nil {
				return nil, err
			}
			return &Document{Events: events}, nil
		}
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, fmt.Errorf("decode history document: %w", err)
		}
		return &doc, nil
	}

	var node yaml.Node
	if err := yaml.Unmarshal(trimmed, &node); err != nil {
		return nil, fmt.Errorf("decode history document: %w", err)
	}
	if len(node.Content) > 0 && node.Content[0].Kind == yaml.SequenceNode {
		var events []*Event
		if err := node.Content[0].Decode(&events); err != nil {
			return nil, fmt.Errorf("decode events: %w", err)
		}
		return &Document{Events: events}, nil
	}
	if err := node.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode history document: %w", err)
	}
	return &doc, nil
}

// MarshalDocumentYAML encodes a document as YAML.
func MarshalDocumentYAML(doc *Document) ([]byte, error) {
	if doc == nil {
		doc = &Document{}
	}
	return yaml.Marshal(doc)
}

func isJSON(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	if data[0] != '{' && data[0] != '[' {
		return false
	}
	return json.Valid(data)
}
