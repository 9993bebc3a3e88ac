package catalog

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

//go:embed medicines.json
var embeddedCatalog []byte

// Medicine is a known medicine record
type Medicine struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	GenericName       string   `json:"generic_name"`
	Category          string   `json:"category"`
	CommonDosages     []string `json:"common_dosages"`
	CommonFrequencies []string `json:"common_frequencies"`
	SideEffects       []string `json:"side_effects"`
	Contraindications []string `json:"contraindications"`
	Manufacturers     []string `json:"manufacturers"`
	Description       string   `json:"description"`
	Aliases           []string `json:"aliases"`
}

// keys returns the lookup strings of a record in match order
func (m Medicine) keys() []string {
	keys := make([]string, 0, len(m.Aliases)+2)
	keys = append(keys, m.Name, m.GenericName)
	keys = append(keys, m.Aliases...)
	return keys
}

// Catalog is an immutable, in-memory medicine knowledge base.
// It is safe for concurrent use.
type Catalog struct {
	medicines []Medicine
	exact     map[string]int
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// New builds a catalog from records, preserving their order
func New(medicines []Medicine) *Catalog {
	c := &Catalog{
		medicines: make([]Medicine, len(medicines)),
		exact:     make(map[string]int),
	}
	copy(c.medicines, medicines)

	for i, m := range c.medicines {
		for _, k := range m.keys() {
			k = normalize(k)
			if k == "" {
				continue
			}
			// first record in catalog order wins
			if _, ok := c.exact[k]; !ok {
				c.exact[k] = i
			}
		}
	}
	return c
}

// Load reads a JSON array of medicine records
func Load(r io.Reader) (*Catalog, error) {
	var medicines []Medicine
	if err := json.NewDecoder(r).Decode(&medicines); err != nil {
		return nil, fmt.Errorf("decoding medicine catalog: %w", err)
	}
	for i, m := range medicines {
		if strings.TrimSpace(m.Name) == "" {
			return nil, fmt.Errorf("medicine at index %d has no name", i)
		}
	}
	return New(medicines), nil
}

// LoadFile reads a catalog from a JSON file
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}
	defer f.Close()

	return Load(f)
}

// Default returns the catalog bundled with the binary
func Default() (*Catalog, error) {
	return Load(bytes.NewReader(embeddedCatalog))
}

// FindExact returns the record whose name, generic name or alias equals
// name, ignoring case
func (c *Catalog) FindExact(name string) (Medicine, bool) {
	i, ok := c.exact[normalize(name)]
	if !ok {
		return Medicine{}, false
	}
	return c.medicines[i], true
}

// FindPartial returns, in catalog order, every record where name is a
// substring of the name, generic name or an alias, ignoring case
func (c *Catalog) FindPartial(name string) []Medicine {
	term := normalize(name)
	if term == "" {
		return nil
	}

	var matches []Medicine
	for _, m := range c.medicines {
		for _, k := range m.keys() {
			if strings.Contains(strings.ToLower(k), term) {
				matches = append(matches, m)
				break
			}
		}
	}
	return matches
}

// Resolve tries an exact match and falls back to the first partial match
func (c *Catalog) Resolve(name string) (Medicine, bool) {
	if m, ok := c.FindExact(name); ok {
		return m, true
	}
	if matches := c.FindPartial(name); len(matches) > 0 {
		return matches[0], true
	}
	return Medicine{}, false
}

// ByCategory returns records in the given category, ignoring case
func (c *Catalog) ByCategory(category string) []Medicine {
	category = normalize(category)
	var matches []Medicine
	for _, m := range c.medicines {
		if normalize(m.Category) == category {
			matches = append(matches, m)
		}
	}
	return matches
}

// Categories returns the distinct categories in sorted order
func (c *Catalog) Categories() []string {
	seen := make(map[string]bool)
	var categories []string
	for _, m := range c.medicines {
		if m.Category == "" || seen[m.Category] {
			continue
		}
		seen[m.Category] = true
		categories = append(categories, m.Category)
	}
	sort.Strings(categories)
	return categories
}

// All returns every record in catalog order
func (c *Catalog) All() []Medicine {
	out := make([]Medicine, len(c.medicines))
	copy(out, c.medicines)
	return out
}

// Len returns the number of records
func (c *Catalog) Len() int {
	return len(c.medicines)
}
