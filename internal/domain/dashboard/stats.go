// Package dashboard aggregates the counters shown on the admin home page.
package dashboard

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Querier is the set of counting queries the dashboard needs.
type Querier interface {
	CountPlaces(ctx context.Context) (total, featured int64, err error)
	CountPublishedTranslationsByLocale(ctx context.Context) (map[string]int64, error)
	CountTerms(ctx context.Context, table string) (total, active int64, err error)
	CountRequestsByStatus(ctx context.Context, table string) (map[string]int64, error)
	CountAdmins(ctx context.Context) (total, active int64, err error)
}

type Counter struct {
	Total  int64 `json:"total"`
	Active int64 `json:"active"`
}

type Stats struct {
	Places struct {
		Total     int64            `json:"total"`
		Featured  int64            `json:"featured"`
		Published map[string]int64 `json:"published_by_locale"`
	} `json:"places"`
	Tags          Counter          `json:"tags"`
	Categories    Counter          `json:"categories"`
	PlaceRequests map[string]int64 `json:"place_requests"`
	EditRequests  map[string]int64 `json:"edit_requests"`
	Admins        Counter          `json:"admins"`
}

// Pending is the number of requests waiting for a decision.
func (s Stats) Pending() int64 {
	var n int64
	for _, m := range []map[string]int64{s.PlaceRequests, s.EditRequests} {
		n += m["submitted"] + m["pending"]
	}
	return n
}

type Service struct {
	q Querier
}

func NewService(q Querier) *Service {
	return &Service{q: q}
}

// Stats runs the counting queries concurrently.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	var out Stats
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() (err error) {
		out.Places.Total, out.Places.Featured, err = s.q.CountPlaces(ctx)
		return wrap("places", err)
	})
	g.Go(func() (err error) {
		out.Places.Published, err = s.q.CountPublishedTranslationsByLocale(ctx)
		return wrap("translations", err)
	})
	g.Go(func() (err error) {
		out.Tags.Total, out.Tags.Active, err = s.q.CountTerms(ctx, "tags")
		return wrap("tags", err)
	})
	g.Go(func() (err error) {
		out.Categories.Total, out.Categories.Active, err = s.q.CountTerms(ctx, "categories")
		return wrap("categories", err)
	})
	g.Go(func() (err error) {
		out.PlaceRequests, err = s.q.CountRequestsByStatus(ctx, "place_requests")
		return wrap("place requests", err)
	})
	g.Go(func() (err error) {
		out.EditRequests, err = s.q.CountRequestsByStatus(ctx, "edit_requests")
		return wrap("edit requests", err)
	})
	g.Go(func() (err error) {
		out.Admins.Total, out.Admins.Active, err = s.q.CountAdmins(ctx)
		return wrap("admins", err)
	})

	if err := g.Wait(); err != nil {
		return Stats{}, err
	}
	return out, nil
}

func wrap(what string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("count %s: %w", what, err)
}
