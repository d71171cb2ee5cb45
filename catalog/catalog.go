// Package catalog loads selector definitions from YAML files.
//
// A catalog file has a top-level "selectors" list:
//
//	selectors:
//	  - id: price
//	    site: shop
//	    module: product
//	    threshold: 0.8
//	    strategies:
//	      - id: itemprop
//	        priority: 1
//	        attribute_match: {attribute: itemprop, pattern: price, exact: true}
//
// Strategies are enabled unless they set enabled: false.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/use-agent/pinpoint/models"
	"github.com/use-agent/pinpoint/registry"
)

type file struct {
	Selectors []models.SelectorDefinition `yaml:"selectors"`
}

// enabledFlags mirrors file to tell an omitted enabled key from false.
type enabledFlags struct {
	Selectors []struct {
		Strategies []struct {
			Enabled *bool `yaml:"enabled"`
		} `yaml:"strategies"`
	} `yaml:"selectors"`
}

// Parse decodes one catalog document.
func Parse(data []byte) ([]models.SelectorDefinition, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}
	var flags enabledFlags
	if err := yaml.Unmarshal(data, &flags); err != nil {
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}
	for i := range f.Selectors {
		for j := range f.Selectors[i].Strategies {
			if i < len(flags.Selectors) && j < len(flags.Selectors[i].Strategies) &&
				flags.Selectors[i].Strategies[j].Enabled == nil {
				f.Selectors[i].Strategies[j].Enabled = true
			}
		}
	}
	return f.Selectors, nil
}

// Load reads a catalog file, or every *.yaml / *.yml file in a directory
// in lexical order.
func Load(path string) ([]models.SelectorDefinition, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	files := []string{path}
	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, fmt.Errorf("catalog: read dir: %w", err)
		}
		files = files[:0]
		for _, e := range entries {
			ext := strings.ToLower(filepath.Ext(e.Name()))
			if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
				files = append(files, filepath.Join(path, e.Name()))
			}
		}
		sort.Strings(files)
	}

	var defs []models.SelectorDefinition
	for _, name := range files {
		data, err := os.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("catalog: %w", err)
		}
		parsed, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		defs = append(defs, parsed...)
	}
	return defs, nil
}

// Register loads path into reg. Every definition is attempted; the
// returned error joins all rejections and the count covers successes.
func Register(reg *registry.Registry, path string) (int, error) {
	defs, err := Load(path)
	if err != nil {
		return 0, err
	}
	var errs []error
	n := 0
	for _, d := range defs {
		if err := reg.Register(d); err != nil {
			errs = append(errs, fmt.Errorf("selector %q: %w", d.ID, err))
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}
