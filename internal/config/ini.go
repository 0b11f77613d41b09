package config

import (
	"io"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/vaughan0/go-ini"

	"github.com/sprite-ai/refgate/internal/apperr"
)

// DefaultSection holds values every other section inherits.
const DefaultSection = "DEFAULT"

// maxInterpolationDepth bounds nested %(name)s references.
const maxInterpolationDepth = 10

var interpolation = regexp.MustCompile(`%\(([^)]+)\)s|%%`)

// INI is a parsed defaults file. Values may reference other keys of the
// same section, the defaults or the filtered environment as %(name)s; a
// literal percent sign is written %%.
type INI struct {
	defaults Params
	sections map[string]Params
}

// LoadINIFile parses the file at path.
func LoadINIFile(path string, env Params) (*INI, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperr.Wrapf(err, apperr.CodeConfiguration, "loading defaults file")
	}
	defer f.Close()
	return LoadINI(f, env)
}

// LoadINI parses r. env seeds the defaults; the file's [DEFAULT] section
// and any keys before the first section override it.
func LoadINI(r io.Reader, env Params) (*INI, error) {
	file, err := ini.Load(r)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeConfiguration, "parsing defaults file")
	}

	c := &INI{defaults: Params{}, sections: map[string]Params{}}
	for k, v := range env {
		c.defaults[strings.ToLower(k)] = v
	}
	for _, name := range []string{"", DefaultSection} {
		for k, v := range file[name] {
			c.defaults[strings.ToLower(k)] = v
		}
	}
	for name, section := range file {
		if name == "" || name == DefaultSection {
			continue
		}
		p := Params{}
		for k, v := range section {
			p[strings.ToLower(k)] = v
		}
		c.sections[name] = p
	}
	return c, nil
}

func (c *INI) setDefault(key, value string) {
	if _, ok := c.defaults[key]; !ok {
		c.defaults[key] = value
	}
}

// Defaults returns the interpolated default values.
func (c *INI) Defaults() (Params, error) {
	return interpolateAll(c.defaults)
}

// Section returns the defaults overlaid with section name, interpolated.
// A missing section yields the defaults alone.
func (c *INI) Section(name string) (Params, error) {
	raw := c.defaults.Merge(c.sections[name])
	return interpolateAll(raw)
}

// Sections lists the named sections, sorted.
func (c *INI) Sections() []string {
	names := make([]string, 0, len(c.sections))
	for name := range c.sections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func interpolateAll(raw Params) (Params, error) {
	out := make(Params, len(raw))
	for k, v := range raw {
		value, err := interpolate(raw, k, v, 0)
		if err != nil {
			return nil, err
		}
		out[k] = value
	}
	return out, nil
}

func interpolate(vars Params, key, value string, depth int) (string, error) {
	if !strings.Contains(value, "%") {
		return value, nil
	}
	if depth >= maxInterpolationDepth {
		return "", apperr.Configuration("'%s': interpolation nested too deeply", key)
	}

	var failure error
	out := interpolation.ReplaceAllStringFunc(value, func(m string) string {
		if failure != nil {
			return ""
		}
		if m == "%%" {
			return "%"
		}
		name := strings.ToLower(m[2 : len(m)-2])
		ref, ok := vars[name]
		if !ok {
			failure = apperr.Configuration("'%s': bad interpolation reference %%(%s)s", key, name)
			return ""
		}
		resolved, err := interpolate(vars, name, ref, depth+1)
		if err != nil {
			failure = err
			return ""
		}
		return resolved
	})
	if failure != nil {
		return "", failure
	}
	return out, nil
}
