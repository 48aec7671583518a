// Package variants defines derived-image variants and renders them.
//
// A Definition names one variant: an ordered transform chain plus the output
// encodings it is published in. The Registry is built once at startup from
// configuration and validated eagerly, so a bad variant table fails the
// process before any record is touched.
package variants

import (
	"fmt"
	"image"
	"regexp"
	"sort"
	"strings"

	"imageserver/internal/config"
	"imageserver/internal/naming"
)

// Definition is one registered variant.
type Definition struct {
	Name       string
	Transforms []Transform
	Encoders   map[string]Encoder
}

// Registry holds every variant in registration order.
type Registry struct {
	defs []Definition
}

var slugStrip = regexp.MustCompile(`[^a-z0-9]+`)

// SanitizeName lowers a variant name to a URL-safe slug.
func SanitizeName(name string) string {
	slug := slugStrip.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
	return strings.Trim(slug, "-")
}

// NewRegistry validates definitions and fixes their order. Duplicate
// sanitized names, empty definitions, and unknown encodings are configuration
// errors.
func NewRegistry(defs ...Definition) (*Registry, error) {
	seen := make(map[string]struct{}, len(defs))
	out := make([]Definition, 0, len(defs))
	for _, def := range defs {
		name := SanitizeName(def.Name)
		if name == "" {
			return nil, fmt.Errorf("variant name %q sanitizes to nothing", def.Name)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("duplicate variant name %q", name)
		}
		seen[name] = struct{}{}
		if len(def.Encoders) == 0 {
			return nil, fmt.Errorf("variant %q has no encodings", name)
		}
		for ext := range def.Encoders {
			if !SupportedExtension(ext) {
				return nil, fmt.Errorf("variant %q: unsupported output extension %q", name, ext)
			}
		}
		def.Name = name
		out = append(out, def)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no variants defined")
	}
	return &Registry{defs: out}, nil
}

// FromConfig builds the registry from the configured variant table, falling
// back to the built-in defaults when the table is empty.
func FromConfig(cfg *config.Config) (*Registry, error) {
	if len(cfg.Variants) == 0 {
		return defaultRegistry()
	}
	defs := make([]Definition, 0, len(cfg.Variants))
	for _, vc := range cfg.Variants {
		def, err := definitionFromConfig(vc)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return NewRegistry(defs...)
}

func definitionFromConfig(vc config.VariantConfig) (Definition, error) {
	def := Definition{Name: vc.Name, Encoders: make(map[string]Encoder, len(vc.Encoding))}
	for _, tc := range vc.Transform {
		transform, err := transformFromConfig(vc.Name, tc)
		if err != nil {
			return Definition{}, err
		}
		def.Transforms = append(def.Transforms, transform)
	}
	for _, ec := range vc.Encoding {
		ext := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ec.Ext), "."))
		if _, dup := def.Encoders[ext]; dup {
			return Definition{}, fmt.Errorf("variant %q: duplicate encoding %q", vc.Name, ext)
		}
		def.Encoders[ext] = Encoder{Quality: ec.Quality, StripMetadata: ec.StripMetadata}
	}
	return def, nil
}

func transformFromConfig(variant string, tc config.TransformConfig) (Transform, error) {
	if tc.Width <= 0 || tc.Height <= 0 {
		return nil, fmt.Errorf("variant %q: transform %q needs positive dimensions", variant, tc.Op)
	}
	switch strings.ToLower(tc.Op) {
	case "resize":
		return Resize{Width: tc.Width, Height: tc.Height}, nil
	case "fit":
		return Fit{Width: tc.Width, Height: tc.Height}, nil
	case "pad":
		background, err := ParseHexColor(tc.Background)
		if err != nil {
			return nil, fmt.Errorf("variant %q: %w", variant, err)
		}
		if _, err := anchorOffset(tc.Position, tc.Width, tc.Height, 0, 0); err != nil {
			return nil, fmt.Errorf("variant %q: %w", variant, err)
		}
		return Pad{Width: tc.Width, Height: tc.Height, Background: background, Position: tc.Position}, nil
	}
	return nil, fmt.Errorf("variant %q: unknown transform op %q", variant, tc.Op)
}

func defaultRegistry() (*Registry, error) {
	white, _ := ParseHexColor("ffffff")
	defaultEncoders := func() map[string]Encoder {
		return map[string]Encoder{
			"jpg": {Quality: 75, StripMetadata: true},
			"png": {StripMetadata: true},
		}
	}
	return NewRegistry(
		Definition{
			Name:       "600x600wh",
			Transforms: []Transform{Pad{Width: 600, Height: 600, Background: white, Position: "center"}},
			Encoders:   defaultEncoders(),
		},
		Definition{
			Name:       "150x150wh",
			Transforms: []Transform{Pad{Width: 150, Height: 150, Background: white, Position: "center"}},
			Encoders:   defaultEncoders(),
		},
	)
}

// All returns every definition in registration order.
func (r *Registry) All() []Definition {
	out := make([]Definition, len(r.defs))
	copy(out, r.defs)
	return out
}

// Names returns every registered variant name in order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.defs))
	for i, def := range r.defs {
		names[i] = def.Name
	}
	return names
}

// Get returns the definition registered under name.
func (r *Registry) Get(name string) (Definition, bool) {
	for _, def := range r.defs {
		if def.Name == name {
			return def, true
		}
	}
	return Definition{}, false
}

// Key derives the deterministic storage key of one variant output from the
// source key: the source key without its extension, an underscore, the
// variant name, then the output extension.
func Key(sourceKey, variantName, ext string) string {
	return naming.WithExtension(naming.TrimExtension(sourceKey)+"_"+variantName, ext)
}

// SimulatedKeys enumerates every output key the registry will produce for a
// source key, before any pixel work happens. The variant stage persists
// these as pending files so a crash mid-generation leaves a findable trail.
func (r *Registry) SimulatedKeys(sourceKey string) []string {
	var keys []string
	for _, def := range r.defs {
		exts := make([]string, 0, len(def.Encoders))
		for ext := range def.Encoders {
			exts = append(exts, ext)
		}
		sort.Strings(exts)
		for _, ext := range exts {
			keys = append(keys, Key(sourceKey, def.Name, ext))
		}
	}
	return keys
}

// Process runs the definition's transform chain over a decoded source image.
// The source is never mutated.
func (d Definition) Process(src image.Image) (image.Image, error) {
	img := src
	for _, transform := range d.Transforms {
		next, err := transform.Apply(img)
		if err != nil {
			return nil, fmt.Errorf("variant %s: %w", d.Name, err)
		}
		img = next
	}
	return img, nil
}

// SortedExtensions returns the definition's output extensions in stable order.
func (d Definition) SortedExtensions() []string {
	exts := make([]string, 0, len(d.Encoders))
	for ext := range d.Encoders {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}
