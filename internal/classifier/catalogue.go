// Package classifier turns an identity's interests into scored cohort
// assignments by calling an external classification model, validating and
// repairing its output, and retrying on malformed responses.
package classifier

import (
	"os"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"
)

var fold = cases.Fold()

// DefaultCatalogue is the closed set of candidate cohort names. It is
// configuration, not derived data: the classifier may only return names from
// this list.
var DefaultCatalogue = []string{
	"politics",
	"travel",
	"finance",
	"fashion",
	"movies",
	"tech",
	"education",
	"photography",
	"health",
	"food",
	"fitness",
	"outdoor",
}

// Catalogue is a fixed set of candidate cohort names with caseless lookup.
type Catalogue struct {
	names []string
	index map[string]string // folded name -> canonical name
}

// NewCatalogue builds a catalogue from the given names. Names are stored in
// the casing given; lookup is caseless.
func NewCatalogue(names []string) *Catalogue {
	c := &Catalogue{
		names: append([]string(nil), names...),
		index: make(map[string]string, len(names)),
	}
	for _, n := range names {
		c.index[fold.String(n)] = n
	}
	return c
}

// Names returns the catalogue entries in declaration order.
func (c *Catalogue) Names() []string {
	return c.names
}

// Canonical resolves a classifier-returned cohort name to its catalogue form.
// Returns ("", false) for names outside the catalogue.
func (c *Catalogue) Canonical(name string) (string, bool) {
	canonical, ok := c.index[fold.String(name)]
	return canonical, ok
}

// LoadCatalogueFile reads a YAML list of cohort names, overriding the default
// catalogue. An empty file is an error: the classifier contract requires a
// non-empty candidate set.
func LoadCatalogueFile(path string) (*Catalogue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "classifier: read catalogue %s", path)
	}
	var names []string
	if err := yaml.Unmarshal(data, &names); err != nil {
		return nil, eris.Wrapf(err, "classifier: parse catalogue %s", path)
	}
	if len(names) == 0 {
		return nil, eris.Errorf("classifier: catalogue %s is empty", path)
	}
	return NewCatalogue(names), nil
}
