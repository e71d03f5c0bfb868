package taxonomy

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type keywordFile struct {
	Domains []keywordDomain `yaml:"domains"`
}

type keywordDomain struct {
	ID       string   `yaml:"id"`
	Keywords []string `yaml:"keywords"`
}

// LoadKeywords reads a per-domain keyword table from a YAML file. Domains
// present in the file replace the built-in lists; domains absent from the
// file keep their built-ins. Unknown domain ids are rejected so typos do
// not silently create dead rules.
func LoadKeywords(path string) (map[string][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keyword table: %w", err)
	}
	var kf keywordFile
	if err := yaml.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("parse keyword table yaml: %w", err)
	}

	table := Keywords()
	for _, d := range kf.Domains {
		id := Normalize(d.ID)
		if !IsCanonical(id) {
			return nil, fmt.Errorf("keyword table: unknown domain %q", d.ID)
		}
		if id == OOS {
			return nil, fmt.Errorf("keyword table: %s takes no keywords", OOS)
		}
		var cleaned []string
		for _, kw := range d.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" {
				cleaned = append(cleaned, kw)
			}
		}
		table[id] = cleaned
	}
	return table, nil
}
