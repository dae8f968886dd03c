// Package dictionary loads F Prime JSON dictionaries and indexes their
// telemetry channels by name and identifier.
package dictionary

import (
	"encoding/json"
	"io/ioutil"
	"sort"

	"github.com/pkg/errors"
	"github.com/tidwall/jsonc"
)

// Type kinds as written in the dictionary.
const (
	KindInteger             = "integer"
	KindFloat               = "float"
	KindBool                = "bool"
	KindString              = "string"
	KindQualifiedIdentifier = "qualifiedIdentifier"
	KindEnum                = "enum"
	KindAlias               = "alias"
)

// Type describes the serialized form of a channel value.
type Type struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Size   int    `json:"size,omitempty"`
	Signed bool   `json:"signed,omitempty"`
}

type EnumConstant struct {
	Name  string `json:"name"`
	Value int64  `json:"value"`
}

type Enum struct {
	QualifiedName      string         `json:"qualifiedName"`
	RepresentationType Type           `json:"representationType"`
	Constants          []EnumConstant `json:"enumeratedConstants"`
}

// Lookup returns the constant name for v.
func (e Enum) Lookup(v int64) (string, bool) {
	for _, c := range e.Constants {
		if c.Value == v {
			return c.Name, true
		}
	}
	return "", false
}

// Channel is a telemetry channel descriptor.
type Channel struct {
	Name       string `json:"name"`
	ID         uint32 `json:"id"`
	Type       Type   `json:"type"`
	Annotation string `json:"annotation,omitempty"`

	// Enum is set when Type names an enum from the type definitions.
	Enum *Enum `json:"-"`
}

type Metadata struct {
	DeploymentName        string `json:"deploymentName"`
	ProjectVersion        string `json:"projectVersion"`
	FrameworkVersion      string `json:"frameworkVersion"`
	DictionarySpecVersion string `json:"dictionarySpecVersion"`
}

// Dictionaries holds the channel indexes a pipeline exposes to consumers.
type Dictionaries struct {
	Metadata    Metadata
	ChannelID   map[uint32]Channel
	ChannelName map[string]Channel
}

type typeDefinition struct {
	Enum
	Kind           string `json:"kind"`
	UnderlyingType *Type  `json:"underlyingType"`
}

type document struct {
	Metadata          Metadata         `json:"metadata"`
	TypeDefinitions   []typeDefinition `json:"typeDefinitions"`
	TelemetryChannels []Channel        `json:"telemetryChannels"`
}

// Parse strips comments and trailing commas from data and indexes the
// telemetry channels it declares.
func Parse(data []byte) (*Dictionaries, error) {
	var doc document
	if err := json.Unmarshal(jsonc.ToJSON(data), &doc); err != nil {
		return nil, errors.Wrap(err, "parsing dictionary")
	}

	enums := make(map[string]*Enum)
	aliases := make(map[string]Type)
	for idx := range doc.TypeDefinitions {
		def := &doc.TypeDefinitions[idx]
		switch def.Kind {
		case KindEnum:
			enums[def.QualifiedName] = &def.Enum
		case KindAlias:
			if def.UnderlyingType != nil {
				aliases[def.QualifiedName] = *def.UnderlyingType
			}
		}
	}

	d := &Dictionaries{
		Metadata:    doc.Metadata,
		ChannelID:   make(map[uint32]Channel, len(doc.TelemetryChannels)),
		ChannelName: make(map[string]Channel, len(doc.TelemetryChannels)),
	}

	for _, ch := range doc.TelemetryChannels {
		if ch.Name == "" {
			return nil, errors.Errorf("channel with id %d has no name", ch.ID)
		}
		if prev, dup := d.ChannelID[ch.ID]; dup {
			return nil, errors.Errorf("channel id %d used by %q and %q", ch.ID, prev.Name, ch.Name)
		}
		if _, dup := d.ChannelName[ch.Name]; dup {
			return nil, errors.Errorf("channel name %q declared twice", ch.Name)
		}

		// Aliases may chain. Each hop resolves one name, so the walk is
		// bounded by the number of aliases.
		for hops := 0; ch.Type.Kind == KindQualifiedIdentifier && hops < len(aliases); hops++ {
			underlying, ok := aliases[ch.Type.Name]
			if !ok {
				break
			}
			ch.Type = underlying
		}

		if ch.Type.Kind == KindQualifiedIdentifier {
			ch.Enum = enums[ch.Type.Name]
		}

		d.ChannelID[ch.ID] = ch
		d.ChannelName[ch.Name] = ch
	}

	return d, nil
}

// ReadFile reads and parses the dictionary at path.
func ReadFile(path string) (*Dictionaries, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading dictionary")
	}

	d, err := Parse(data)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}

	return d, nil
}

// Names returns the channel names in sorted order.
func Names(channelsByName map[string]Channel) []string {
	names := make([]string, 0, len(channelsByName))
	for name := range channelsByName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup finds a channel by name or returns an *UnknownChannelError.
func Lookup(channelsByName map[string]Channel, name string) (Channel, error) {
	ch, ok := channelsByName[name]
	if !ok {
		return Channel{}, &UnknownChannelError{Name: name, Valid: Names(channelsByName)}
	}
	return ch, nil
}
