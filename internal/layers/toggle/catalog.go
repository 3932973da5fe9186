package toggle

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/MeKo-Tech/osem/internal/features"
	"github.com/paulmach/orb/geojson"
	"gopkg.in/yaml.v3"
)

// DefaultProperties is the selection allow-list of layers that name none.
var DefaultProperties = []string{"name"}

// Layer defines one toggle layer. Properties is the allow-list passed to
// feature selection; empty means DefaultProperties.
type Layer struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	DataPath     string   `yaml:"dataPath"`
	FillColor    string   `yaml:"fillColor"`
	OutlineColor string   `yaml:"outlineColor"`
	Opacity      float64  `yaml:"opacity"`
	OutlineWidth float64  `yaml:"outlineWidth"`
	Properties   []string `yaml:"properties"`
}

// FillLayerID returns the id of the layer's fill style layer.
func (l Layer) FillLayerID() string { return l.ID + "-fill" }

// OutlineLayerID returns the id of the layer's outline style layer.
func (l Layer) OutlineLayerID() string { return l.ID + "-outline" }

func (l Layer) withDefaults() Layer {
	if l.Name == "" {
		l.Name = l.ID
	}
	if l.FillColor == "" {
		l.FillColor = "#088"
	}
	if l.OutlineColor == "" {
		l.OutlineColor = l.FillColor
	}
	if l.Opacity <= 0 || l.Opacity > 1 {
		l.Opacity = 0.4
	}
	if l.OutlineWidth <= 0 {
		l.OutlineWidth = 1.5
	}
	return l
}

func (l Layer) selectProperties(f *geojson.Feature) map[string]any {
	allow := l.Properties
	if len(allow) == 0 {
		allow = DefaultProperties
	}
	return features.SelectProperties(f.Properties, allow)
}

type catalogFile struct {
	Layers []Layer `yaml:"layers"`
}

// ParseCatalog decodes a YAML layer catalog. Every layer needs an id and a
// data path, and ids must be unique.
func ParseCatalog(data []byte) ([]Layer, error) {
	var cat catalogFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cat); err != nil {
		return nil, fmt.Errorf("failed to decode layer catalog: %w", err)
	}

	seen := make(map[string]bool, len(cat.Layers))
	var errs []error
	for i, l := range cat.Layers {
		switch {
		case l.ID == "":
			errs = append(errs, fmt.Errorf("layer %d: missing id", i))
		case l.DataPath == "":
			errs = append(errs, fmt.Errorf("layer %s: missing dataPath", l.ID))
		case seen[l.ID]:
			errs = append(errs, fmt.Errorf("layer %s: duplicate id", l.ID))
		}
		seen[l.ID] = true
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cat.Layers, nil
}

// LoadCatalog reads a YAML layer catalog from path.
func LoadCatalog(path string) ([]Layer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read layer catalog: %w", err)
	}
	return ParseCatalog(data)
}
