package handlers

import (
	"net/http"

	"github.com/spaceplaces/server/internal/listing"
)

// listMeta describes the page returned by an admin table endpoint. Warnings
// list the parameters that were reset to their defaults.
type listMeta struct {
	Total    int                  `json:"total"`
	Page     int                  `json:"page"`
	PerPage  int                  `json:"per_page"`
	Sort     string               `json:"sort,omitempty"`
	Warnings []listing.FieldError `json:"warnings"`
}

type listResponse[T any] struct {
	Data []T      `json:"data"`
	Meta listMeta `json:"meta"`
}

// adminListQuery validates list parameters for t. Invalid fields are reset
// and reported instead of failing the request.
func adminListQuery(guard *listing.Guard, r *http.Request, t listing.ListType) (listing.Query, listMeta, error) {
	params := listing.ParseParams(r.URL.Query(), guard.FilterKeys(t)...)
	params, warnings := guard.ApplyWithWarnings(t, params)
	q, err := guard.Query(t, params)
	if err != nil {
		return listing.Query{}, listMeta{}, err
	}
	if warnings == nil {
		warnings = []listing.FieldError{}
	}
	page := 1
	if q.Limit > 0 {
		page = q.Offset/q.Limit + 1
	}
	return q, listMeta{Page: page, PerPage: q.Limit, Sort: params.Sort, Warnings: warnings}, nil
}

func newListResponse[T any](items []T, total int, meta listMeta) listResponse[T] {
	if items == nil {
		items = []T{}
	}
	meta.Total = total
	return listResponse[T]{Data: items, Meta: meta}
}
