package voices

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultPreset is used when a request names no speaker or an unknown one.
const DefaultPreset = "Serena"

// Presets is the speaker set of the preset synthesis model.
var Presets = []string{
	"Vivian", "Serena", "Uncle_Fu", "Dylan", "Eric", "Ryan", "Aiden", "Ono_Anna", "Sohee",
}

// ErrUnknownDefault is returned when the default speaker is not in the set.
var ErrUnknownDefault = errors.New("default speaker is not a preset")

// Catalog is a closed set of preset speakers.
type Catalog struct {
	byKey          map[string]string
	speakers       []string
	defaultSpeaker string
}

// NewCatalog builds a catalog. Empty speakers selects Presets, an empty default
// selects DefaultPreset.
func NewCatalog(speakers []string, defaultSpeaker string) (*Catalog, error) {
	if len(speakers) == 0 {
		speakers = Presets
	}

	if defaultSpeaker == "" {
		defaultSpeaker = DefaultPreset
	}

	catalog := &Catalog{byKey: make(map[string]string, len(speakers))}

	for _, speaker := range speakers {
		key := strings.ToLower(strings.TrimSpace(speaker))
		if key == "" {
			continue
		}

		if _, seen := catalog.byKey[key]; seen {
			continue
		}

		catalog.byKey[key] = speaker
		catalog.speakers = append(catalog.speakers, speaker)
	}

	canonical, ok := catalog.byKey[strings.ToLower(defaultSpeaker)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDefault, defaultSpeaker)
	}

	catalog.defaultSpeaker = canonical

	return catalog, nil
}

// Resolve maps name to a known speaker, case-insensitively. Unknown or empty
// names resolve to the default; coerced reports that substitution.
func (c *Catalog) Resolve(name string) (speaker string, coerced bool) {
	canonical, ok := c.byKey[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return c.defaultSpeaker, true
	}

	return canonical, false
}

// Default returns the default speaker.
func (c *Catalog) Default() string {
	return c.defaultSpeaker
}

// Speakers returns the speakers in declaration order.
func (c *Catalog) Speakers() []string {
	out := make([]string, len(c.speakers))
	copy(out, c.speakers)

	return out
}
