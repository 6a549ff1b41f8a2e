// Package listing validates user-supplied filter, sort and page-size values
// for back-office and public list views.
//
// Every accepted value comes from an explicit allow-list per list type. Sort
// keys map to fixed SQL expressions, so user input never reaches a query as
// text. Callers pick how to react to invalid input: ApplyWithWarnings resets
// the offending field and reports it, ClampFromURL resets it silently.
package listing

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

type ListType string

const (
	Categories    ListType = "categories"
	Tags          ListType = "tags"
	Places        ListType = "places"
	EditRequests  ListType = "edit-requests"
	PlaceRequests ListType = "place-requests"
	Admins        ListType = "admins"
	// Explore is the public map list. Its cursor pagination only follows
	// created_at, so sort exists to reject anything else.
	Explore ListType = "explore"
)

const (
	DirectionAsc  = "asc"
	DirectionDesc = "desc"

	maxSearchLength = 100
	maxPage         = 10000
)

// Params is raw list state as received from a request.
type Params struct {
	Sort      string
	Direction string
	PerPage   int
	Page      int
	Search    string
	Filters   map[string]string
}

// Query is validated list state ready for a repository.
type Query struct {
	OrderBy string
	Limit   int
	Offset  int
	Search  string
	Filters map[string]string
}

// Filter returns the validated value for key, or "" when unset.
func (q Query) Filter(key string) string {
	if q.Filters == nil {
		return ""
	}
	return q.Filters[key]
}

type FieldError struct {
	Field   string `json:"field"`
	Value   string `json:"value"`
	Message string `json:"message"`
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Message)
}

// Definition is the allow-list for one list type.
type Definition struct {
	// SortColumns maps public sort keys to SQL expressions.
	SortColumns      map[string]string
	DefaultSort      string
	DefaultDirection string
	// Filters maps filter keys to their allowed values.
	Filters        map[string][]string
	PerPageOptions []int
	DefaultPerPage int
}

type Guard struct {
	defs map[ListType]Definition
}

// NewGuard returns a guard loaded with the built-in definitions.
func NewGuard() *Guard {
	return &Guard{defs: defaultDefinitions()}
}

// NewGuardWith builds a guard over custom definitions.
func NewGuardWith(defs map[ListType]Definition) *Guard {
	return &Guard{defs: defs}
}

var perPageOptions = []int{10, 20, 50, 100}

func defaultDefinitions() map[ListType]Definition {
	active := []string{"all", "active", "inactive"}
	requestStatus := []string{"all", "submitted", "pending", "accepted", "refused"}

	return map[ListType]Definition{
		Categories: {
			SortColumns: map[string]string{
				"name":       "t.name",
				"created_at": "c.created_at",
				"places":     "place_count",
			},
			DefaultSort:      "created_at",
			DefaultDirection: DirectionDesc,
			Filters:          map[string][]string{"active": active},
			PerPageOptions:   perPageOptions,
			DefaultPerPage:   20,
		},
		Tags: {
			SortColumns: map[string]string{
				"name":       "t.name",
				"created_at": "c.created_at",
				"places":     "place_count",
			},
			DefaultSort:      "created_at",
			DefaultDirection: DirectionDesc,
			Filters:          map[string][]string{"active": active},
			PerPageOptions:   perPageOptions,
			DefaultPerPage:   20,
		},
		Places: {
			SortColumns: map[string]string{
				"title":      "t.title",
				"created_at": "p.created_at",
				"updated_at": "p.updated_at",
				"featured":   "p.is_featured",
			},
			DefaultSort:      "created_at",
			DefaultDirection: DirectionDesc,
			Filters: map[string][]string{
				"status":   {"all", "draft", "published"},
				"featured": {"all", "yes", "no"},
				"origin":   {"all", "admin", "request"},
			},
			PerPageOptions: perPageOptions,
			DefaultPerPage: 20,
		},
		EditRequests: {
			SortColumns: map[string]string{
				"created_at": "r.created_at",
				"status":     "r.status",
				"type":       "r.type",
			},
			DefaultSort:      "created_at",
			DefaultDirection: DirectionDesc,
			Filters: map[string][]string{
				"status": requestStatus,
				"type":   {"all", "modification", "signalement"},
			},
			PerPageOptions: perPageOptions,
			DefaultPerPage: 20,
		},
		PlaceRequests: {
			SortColumns: map[string]string{
				"created_at": "r.created_at",
				"status":     "r.status",
				"title":      "r.title",
			},
			DefaultSort:      "created_at",
			DefaultDirection: DirectionDesc,
			Filters:          map[string][]string{"status": requestStatus},
			PerPageOptions:   perPageOptions,
			DefaultPerPage:   20,
		},
		Explore: {
			SortColumns:      map[string]string{"created_at": "p.created_at"},
			DefaultSort:      "created_at",
			DefaultDirection: DirectionDesc,
			PerPageOptions:   []int{12, 24, 48},
			DefaultPerPage:   12,
		},
		Admins: {
			SortColumns: map[string]string{
				"username":      "u.username",
				"email":         "u.email",
				"created_at":    "u.created_at",
				"last_login_at": "u.last_login_at",
			},
			DefaultSort:      "created_at",
			DefaultDirection: DirectionDesc,
			Filters: map[string][]string{
				"role":   {"all", "admin", "super_admin"},
				"active": active,
			},
			PerPageOptions: perPageOptions,
			DefaultPerPage: 20,
		},
	}
}

// ParseParams reads list state from query values without validating it.
// Unparseable numbers become -1 so Validate reports them.
func ParseParams(values url.Values, filterKeys ...string) Params {
	p := Params{
		Sort:      strings.TrimSpace(values.Get("sort")),
		Direction: strings.ToLower(strings.TrimSpace(values.Get("direction"))),
		PerPage:   parseInt(values.Get("per_page")),
		Page:      parseInt(values.Get("page")),
		Search:    strings.TrimSpace(values.Get("search")),
		Filters:   map[string]string{},
	}
	for _, key := range filterKeys {
		if v := strings.TrimSpace(values.Get(key)); v != "" {
			p.Filters[key] = v
		}
	}
	return p
}

// FilterKeys lists the filter keys allowed for t, sorted.
func (g *Guard) FilterKeys(t ListType) []string {
	def, ok := g.defs[t]
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(def.Filters))
	for k := range def.Filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func parseInt(raw string) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}
	return v
}

// Validate returns a *FieldError for the first invalid field, checking sort,
// direction, per_page, page, search and filters in that order. Zero values
// mean "use the default" and are valid.
func (g *Guard) Validate(t ListType, p Params) error {
	def, ok := g.defs[t]
	if !ok {
		return fmt.Errorf("listing: unknown list type %q", t)
	}
	if p.Sort != "" {
		if _, ok := def.SortColumns[p.Sort]; !ok {
			return &FieldError{Field: "sort", Value: p.Sort, Message: "unknown sort column"}
		}
	}
	if p.Direction != "" && p.Direction != DirectionAsc && p.Direction != DirectionDesc {
		return &FieldError{Field: "direction", Value: p.Direction, Message: "must be asc or desc"}
	}
	if p.PerPage != 0 && !containsInt(def.PerPageOptions, p.PerPage) {
		return &FieldError{Field: "per_page", Value: strconv.Itoa(p.PerPage), Message: fmt.Sprintf("must be one of %v", def.PerPageOptions)}
	}
	if p.Page < 0 || p.Page > maxPage {
		return &FieldError{Field: "page", Value: strconv.Itoa(p.Page), Message: "out of range"}
	}
	if utf8.RuneCountInString(p.Search) > maxSearchLength {
		return &FieldError{Field: "search", Value: p.Search, Message: fmt.Sprintf("must be at most %d characters", maxSearchLength)}
	}
	for _, key := range sortedKeys(p.Filters) {
		value := p.Filters[key]
		allowed, ok := def.Filters[key]
		if !ok {
			return &FieldError{Field: key, Value: value, Message: "unknown filter"}
		}
		if value != "" && !containsString(allowed, value) {
			return &FieldError{Field: key, Value: value, Message: "unsupported value"}
		}
	}
	return nil
}

// ApplyWithWarnings resets each invalid field to its default and returns the
// errors that caused a reset, for display next to the list.
func (g *Guard) ApplyWithWarnings(t ListType, p Params) (Params, []FieldError) {
	var warnings []FieldError
	p = cloneParams(p)
	// Each iteration fixes one field; the bound covers every field plus filters.
	for i := 0; i < 6+len(p.Filters); i++ {
		err := g.Validate(t, p)
		if err == nil {
			break
		}
		fe, ok := err.(*FieldError)
		if !ok {
			break
		}
		warnings = append(warnings, *fe)
		p = reset(p, fe.Field)
	}
	return p, warnings
}

// ClampFromURL is ApplyWithWarnings without the warnings. It is meant for
// list state bootstrapped from a shared URL, where stale parameters are
// expected and not worth surfacing.
func (g *Guard) ClampFromURL(t ListType, p Params) Params {
	p, _ = g.ApplyWithWarnings(t, p)
	return p
}

// Query validates p and resolves defaults into a repository query.
func (g *Guard) Query(t ListType, p Params) (Query, error) {
	if err := g.Validate(t, p); err != nil {
		return Query{}, err
	}
	def := g.defs[t]

	sortKey := p.Sort
	if sortKey == "" {
		sortKey = def.DefaultSort
	}
	direction := p.Direction
	if direction == "" {
		direction = def.DefaultDirection
	}
	perPage := p.PerPage
	if perPage == 0 {
		perPage = def.DefaultPerPage
	}
	page := p.Page
	if page == 0 {
		page = 1
	}

	filters := make(map[string]string, len(p.Filters))
	for k, v := range p.Filters {
		if v != "" && v != "all" {
			filters[k] = v
		}
	}

	return Query{
		OrderBy: def.SortColumns[sortKey] + " " + strings.ToUpper(direction),
		Limit:   perPage,
		Offset:  (page - 1) * perPage,
		Search:  p.Search,
		Filters: filters,
	}, nil
}

func reset(p Params, field string) Params {
	switch field {
	case "sort":
		p.Sort = ""
	case "direction":
		p.Direction = ""
	case "per_page":
		p.PerPage = 0
	case "page":
		p.Page = 0
	case "search":
		p.Search = ""
	default:
		delete(p.Filters, field)
	}
	return p
}

func cloneParams(p Params) Params {
	filters := make(map[string]string, len(p.Filters))
	for k, v := range p.Filters {
		filters[k] = v
	}
	p.Filters = filters
	return p
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func containsInt(values []int, v int) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

func containsString(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

// Page is the envelope for offset-paginated admin tables.
type Page[T any] struct {
	Items    []T          `json:"items"`
	Total    int          `json:"total"`
	Page     int          `json:"page"`
	PerPage  int          `json:"per_page"`
	Warnings []FieldError `json:"warnings,omitempty"`
}

// NewPage builds the envelope from a validated query.
func NewPage[T any](items []T, total int, q Query, warnings []FieldError) Page[T] {
	if items == nil {
		items = []T{}
	}
	page := 1
	if q.Limit > 0 {
		page = q.Offset/q.Limit + 1
	}
	return Page[T]{Items: items, Total: total, Page: page, PerPage: q.Limit, Warnings: warnings}
}
