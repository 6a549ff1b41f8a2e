// Package render executes the server-side HTML pages and builds the
// schema.org JSON-LD embedded in them.
package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"path"
	"strings"

	"github.com/rs/zerolog"
)

const layoutName = "layout"

// Renderer executes page templates inside the shared layout.
type Renderer struct {
	pages map[string]*template.Template
}

// New parses layout.html and partials/*.html from fsys, then gives every
// pages/*.html its own clone of that base so page blocks never collide.
// Pages are named after their file without extension.
func New(fsys fs.FS, funcs template.FuncMap) (*Renderer, error) {
	all := template.FuncMap{
		"jsonld": JSONLD,
		"add":    func(a, b int) int { return a + b },
	}
	for k, v := range funcs {
		all[k] = v
	}

	patterns := []string{"layout.html"}
	if partials, _ := fs.Glob(fsys, "partials/*.html"); len(partials) > 0 {
		patterns = append(patterns, "partials/*.html")
	}
	base, err := template.New(layoutName).Funcs(all).ParseFS(fsys, patterns...)
	if err != nil {
		return nil, fmt.Errorf("parse layout: %w", err)
	}

	files, err := fs.Glob(fsys, "pages/*.html")
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no pages found")
	}

	r := &Renderer{pages: make(map[string]*template.Template, len(files))}
	for _, file := range files {
		t, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("clone layout for %s: %w", file, err)
		}
		if _, err := t.ParseFS(fsys, file); err != nil {
			return nil, fmt.Errorf("parse %s: %w", file, err)
		}
		r.pages[strings.TrimSuffix(path.Base(file), ".html")] = t
	}
	return r, nil
}

// Has reports whether page was loaded.
func (r *Renderer) Has(page string) bool {
	_, ok := r.pages[page]
	return ok
}

// HTML renders page into a buffer first so a template error never sends a
// half-written document. Failures are logged and answered with a bare 500.
func (r *Renderer) HTML(w http.ResponseWriter, req *http.Request, status int, page string, data any) {
	logger := zerolog.Ctx(req.Context())

	t, ok := r.pages[page]
	if !ok {
		logger.Error().Str("page", page).Msg("unknown page template")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, layoutName, data); err != nil {
		logger.Error().Err(err).Str("page", page).Msg("template execution failed")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// JSONLD marshals v for a <script type="application/ld+json"> block.
// encoding/json escapes <, > and &, so the output cannot close the script.
func JSONLD(v any) (template.JS, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON-LD: %w", err)
	}
	return template.JS(b), nil
}

// PlaceDoc is what a place page knows about the place it shows.
type PlaceDoc struct {
	Name        string
	Description string
	URL         string
	Image       string
	Latitude    float64
	Longitude   float64
	Address     string
	Locality    string
	Country     string
	Language    string
	Keywords    []string
}

// PlaceJSONLD builds the schema.org TouristAttraction document of a place.
func PlaceJSONLD(p PlaceDoc) map[string]any {
	doc := map[string]any{
		"@context": "https://schema.org",
		"@type":    "TouristAttraction",
		"@id":      p.URL,
		"name":     p.Name,
		"url":      p.URL,
		"geo": map[string]any{
			"@type":     "GeoCoordinates",
			"latitude":  p.Latitude,
			"longitude": p.Longitude,
		},
	}
	if p.Description != "" {
		doc["description"] = p.Description
	}
	if p.Image != "" {
		doc["image"] = p.Image
	}
	if p.Language != "" {
		doc["inLanguage"] = p.Language
	}
	if len(p.Keywords) > 0 {
		doc["keywords"] = strings.Join(p.Keywords, ", ")
	}
	if addr := postalAddress(p); addr != nil {
		doc["address"] = addr
	}
	return doc
}

func postalAddress(p PlaceDoc) map[string]any {
	if p.Address == "" && p.Locality == "" && p.Country == "" {
		return nil
	}
	addr := map[string]any{"@type": "PostalAddress"}
	if p.Address != "" {
		addr["streetAddress"] = p.Address
	}
	if p.Locality != "" {
		addr["addressLocality"] = p.Locality
	}
	if p.Country != "" {
		addr["addressCountry"] = p.Country
	}
	return addr
}
