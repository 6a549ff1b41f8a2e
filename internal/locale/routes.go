// Package locale resolves the request language and translates public URLs
// between locales.
package locale

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Route keys. Each maps to one path segment per locale.
const (
	RouteExplore = "explore"
	RoutePlaces  = "places"
	RoutePropose = "propose"
	RouteReport  = "report"
	RouteAbout   = "about"
)

var routeKeys = []string{RouteExplore, RoutePlaces, RoutePropose, RouteReport, RouteAbout}

//go:embed routes.yaml
var routesYAML []byte

type Routes struct {
	segments map[string]map[string]string
	reverse  map[string]map[string]string
}

// LoadRoutes parses the embedded route table and checks that every
// supported locale defines every key.
func LoadRoutes(supported []string) (*Routes, error) {
	return ParseRoutes(routesYAML, supported)
}

func ParseRoutes(data []byte, supported []string) (*Routes, error) {
	var table map[string]map[string]string
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("parse routes: %w", err)
	}
	r := &Routes{segments: table, reverse: make(map[string]map[string]string, len(table))}
	for _, loc := range supported {
		segs, ok := table[loc]
		if !ok {
			return nil, fmt.Errorf("routes: no segments for locale %q", loc)
		}
		r.reverse[loc] = make(map[string]string, len(segs))
		for _, key := range routeKeys {
			seg := segs[key]
			if seg == "" {
				return nil, fmt.Errorf("routes: locale %q has no segment for %q", loc, key)
			}
			if other, dup := r.reverse[loc][seg]; dup {
				return nil, fmt.Errorf("routes: locale %q uses %q for both %q and %q", loc, seg, other, key)
			}
			r.reverse[loc][seg] = key
		}
	}
	return r, nil
}

// Segment returns the path segment for key in locale.
func (r *Routes) Segment(locale, key string) string {
	return r.segments[locale][key]
}

// Key maps a localized segment back to its route key.
func (r *Routes) Key(locale, segment string) (string, bool) {
	key, ok := r.reverse[locale][segment]
	return key, ok
}

// Path builds /{locale}/{segment}[/extra...].
func (r *Routes) Path(locale, key string, extra ...string) string {
	parts := append([]string{"", locale, r.Segment(locale, key)}, extra...)
	return strings.Join(parts, "/")
}

// Home is the locale homepage.
func Home(locale string) string {
	return "/" + locale + "/"
}

// Locales lists the locales present in the table, sorted.
func (r *Routes) Locales() []string {
	out := make([]string, 0, len(r.reverse))
	for loc := range r.reverse {
		out = append(out, loc)
	}
	sort.Strings(out)
	return out
}
