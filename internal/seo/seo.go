// Package seo builds the <head> metadata of public pages. Each page kind
// has a strategy; the first one that supports a page wins.
package seo

import (
	"context"
	"sort"
	"strings"

	"github.com/spaceplaces/server/internal/sanitize"
)

const (
	PageHome    = "home"
	PageExplore = "explore"
	PagePlace   = "place"
	PageAbout   = "about"
	PagePropose = "propose"
	PageReport  = "report"

	descriptionLength = 160
)

// Alternate is one hreflang link.
type Alternate struct {
	Locale string
	URL    string
}

type Meta struct {
	Title       string
	Description string
	Canonical   string
	Image       string
	Type        string
	Locale      string
	Alternates  []Alternate
	NoIndex     bool
}

// Data is what a handler knows about the page being rendered. Fields a page
// does not have stay empty.
type Data struct {
	Page      string
	Locale    string
	SiteName  string
	BaseURL   string
	Path      string
	Title     string
	Body      string
	Image     string
	// Alternates maps locale to path for every published translation.
	Alternates map[string]string
}

type Strategy interface {
	Supports(page string) bool
	Build(ctx context.Context, d Data) Meta
}

type Resolver struct {
	strategies []Strategy
	fallback   Strategy
}

// NewResolver returns a resolver with the built-in strategies followed by
// extra ones.
func NewResolver(extra ...Strategy) *Resolver {
	strategies := append([]Strategy{HomeStrategy{}, ExploreStrategy{}, PlaceStrategy{}}, extra...)
	return &Resolver{strategies: strategies, fallback: DefaultStrategy{}}
}

func (r *Resolver) Resolve(ctx context.Context, d Data) Meta {
	for _, s := range r.strategies {
		if s.Supports(d.Page) {
			return s.Build(ctx, d)
		}
	}
	return r.fallback.Build(ctx, d)
}

var pageTitles = map[string]map[string]string{
	"fr": {
		PageHome:    "Lieux de l'exploration spatiale",
		PageExplore: "Explorer la carte",
		PageAbout:   "À propos",
		PagePropose: "Proposer un lieu",
		PageReport:  "Signaler une modification",
	},
	"en": {
		PageHome:    "Places of space exploration",
		PageExplore: "Explore the map",
		PageAbout:   "About",
		PagePropose: "Propose a place",
		PageReport:  "Suggest a change",
	},
}

var homeDescriptions = map[string]string{
	"fr": "Découvrez les sites de lancement, musées et centres de contrôle qui racontent l'histoire de la conquête spatiale.",
	"en": "Discover the launch sites, museums and control centers that tell the story of space exploration.",
}

func pageTitle(locale, page string) string {
	if t, ok := pageTitles[locale][page]; ok {
		return t
	}
	return pageTitles["en"][page]
}

func absolute(base, path string) string {
	if path == "" || strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

func withSite(title, site string) string {
	if site == "" || title == "" {
		return title + site
	}
	return title + " | " + site
}

func alternates(d Data) []Alternate {
	out := make([]Alternate, 0, len(d.Alternates))
	for loc, path := range d.Alternates {
		out = append(out, Alternate{Locale: loc, URL: absolute(d.BaseURL, path)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Locale < out[j].Locale })
	return out
}

type HomeStrategy struct{}

func (HomeStrategy) Supports(page string) bool { return page == PageHome }

func (HomeStrategy) Build(_ context.Context, d Data) Meta {
	desc, ok := homeDescriptions[d.Locale]
	if !ok {
		desc = homeDescriptions["en"]
	}
	return Meta{
		Title:       withSite(pageTitle(d.Locale, PageHome), d.SiteName),
		Description: desc,
		Canonical:   absolute(d.BaseURL, d.Path),
		Type:        "website",
		Locale:      d.Locale,
		Alternates:  alternates(d),
	}
}

type ExploreStrategy struct{}

func (ExploreStrategy) Supports(page string) bool { return page == PageExplore }

func (ExploreStrategy) Build(_ context.Context, d Data) Meta {
	return Meta{
		Title:      withSite(pageTitle(d.Locale, PageExplore), d.SiteName),
		Canonical:  absolute(d.BaseURL, d.Path),
		Type:       "website",
		Locale:     d.Locale,
		Alternates: alternates(d),
	}
}

// PlaceStrategy describes a place page from its translation and main photo.
type PlaceStrategy struct{}

func (PlaceStrategy) Supports(page string) bool { return page == PagePlace }

func (PlaceStrategy) Build(_ context.Context, d Data) Meta {
	return Meta{
		Title:       withSite(d.Title, d.SiteName),
		Description: sanitize.Excerpt(d.Body, descriptionLength),
		Canonical:   absolute(d.BaseURL, d.Path),
		Image:       absolute(d.BaseURL, d.Image),
		Type:        "article",
		Locale:      d.Locale,
		Alternates:  alternates(d),
	}
}

type DefaultStrategy struct{}

func (DefaultStrategy) Supports(string) bool { return true }

func (DefaultStrategy) Build(_ context.Context, d Data) Meta {
	title := d.Title
	if title == "" {
		title = pageTitle(d.Locale, d.Page)
	}
	return Meta{
		Title:     withSite(title, d.SiteName),
		Canonical: absolute(d.BaseURL, d.Path),
		Type:      "website",
		Locale:    d.Locale,
		// Forms and unknown pages stay out of search indexes.
		NoIndex:    d.Page == PagePropose || d.Page == PageReport || d.Page == "",
		Alternates: alternates(d),
	}
}
