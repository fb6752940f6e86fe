package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/sandevgo/contextd/internal/core"
	"gopkg.in/yaml.v3"
)

// LoadKeywords reads a keyword file and fills whatever it leaves out from the
// built-in defaults. A missing file yields the defaults.
func LoadKeywords(path string) (core.Keywords, error) {
	defaults := core.DefaultKeywords()
	if path == "" {
		return defaults, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return defaults, nil
		}
		return core.Keywords{}, fmt.Errorf("read keywords: %w", err)
	}

	var kw core.Keywords
	if err := yaml.Unmarshal(data, &kw); err != nil {
		return core.Keywords{}, fmt.Errorf("parse keywords %s: %w", path, err)
	}

	for phrase, weight := range kw.Importance {
		if weight < 0 {
			return core.Keywords{}, fmt.Errorf("keyword %q has negative importance %v", phrase, weight)
		}
	}

	return kw.Merge(defaults), nil
}

// MarshalKeywords renders a keyword set in the format LoadKeywords reads.
func MarshalKeywords(kw core.Keywords) ([]byte, error) {
	return yaml.Marshal(kw)
}
