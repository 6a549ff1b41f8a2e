package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/spaceplaces/server/internal/audit"
	"github.com/spaceplaces/server/internal/domain/taxonomy"
	"github.com/spaceplaces/server/internal/listing"
	"github.com/spaceplaces/server/internal/requestctx"
)

// TermAdmin manages tags and categories.
type TermAdmin interface {
	List(ctx context.Context, kind taxonomy.Kind, q listing.Query, locale string) ([]taxonomy.Row, int, error)
	Get(ctx context.Context, kind taxonomy.Kind, id int64) (*taxonomy.Term, error)
	Create(ctx context.Context, kind taxonomy.Kind, in taxonomy.Input) (*taxonomy.Term, error)
	Update(ctx context.Context, kind taxonomy.Kind, id int64, in taxonomy.Input) (*taxonomy.Term, error)
	Delete(ctx context.Context, kind taxonomy.Kind, id int64) error
	ToggleActive(ctx context.Context, kind taxonomy.Kind, id int64) (bool, error)
}

// AdminTaxonomyHandler serves either /admin/tags or /admin/categories,
// depending on Kind.
type AdminTaxonomyHandler struct {
	Terms TermAdmin
	Kind  taxonomy.Kind
	Guard *listing.Guard
	Audit AuditRecorder
	Env   string
}

func NewAdminTaxonomyHandler(service TermAdmin, kind taxonomy.Kind, guard *listing.Guard, auditLogger AuditRecorder, env string) *AdminTaxonomyHandler {
	return &AdminTaxonomyHandler{
		Terms: service,
		Kind:  kind,
		Guard: guard,
		Audit: auditOrNop(auditLogger),
		Env:   env,
	}
}

func (h *AdminTaxonomyHandler) action(verb string) string {
	return string(h.Kind) + "." + verb
}

// List handles GET /api/v1/admin/{tags|categories}.
func (h *AdminTaxonomyHandler) List(w http.ResponseWriter, r *http.Request) {
	q, meta, err := adminListQuery(h.Guard, r, h.Kind.ListType())
	if err != nil {
		writeError(w, r, err, h.Env)
		return
	}
	rows, total, err := h.Terms.List(r.Context(), h.Kind, q, requestctx.From(r.Context()).Locale)
	if err != nil {
		writeError(w, r, err, h.Env)
		return
	}
	writeJSON(w, http.StatusOK, newListResponse(rows, total, meta))
}

func (h *AdminTaxonomyHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadID(w, r, h.Env)
		return
	}
	term, err := h.Terms.Get(r.Context(), h.Kind, id)
	if err != nil {
		writeError(w, r, err, h.Env)
		return
	}
	writeJSON(w, http.StatusOK, term)
}

func (h *AdminTaxonomyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in taxonomy.Input
	if err := decodeJSON(r, &in, false); err != nil {
		writeBadBody(w, r, err, h.Env)
		return
	}
	term, err := h.Terms.Create(r.Context(), h.Kind, in)
	if err != nil {
		h.Audit.Record(r.Context(), h.action("created"), string(h.Kind), 0, audit.StatusFailure, nil)
		writeError(w, r, err, h.Env)
		return
	}
	h.Audit.Record(r.Context(), h.action("created"), string(h.Kind), term.ID, audit.StatusSuccess, nil)
	writeJSON(w, http.StatusCreated, term)
}

func (h *AdminTaxonomyHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadID(w, r, h.Env)
		return
	}
	var in taxonomy.Input
	if err := decodeJSON(r, &in, false); err != nil {
		writeBadBody(w, r, err, h.Env)
		return
	}
	term, err := h.Terms.Update(r.Context(), h.Kind, id, in)
	h.Audit.Record(r.Context(), h.action("updated"), string(h.Kind), id, audit.Outcome(err), nil)
	if err != nil {
		writeError(w, r, err, h.Env)
		return
	}
	writeJSON(w, http.StatusOK, term)
}

// Delete removes the term and its pivot rows. Places stay.
func (h *AdminTaxonomyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadID(w, r, h.Env)
		return
	}
	err := h.Terms.Delete(r.Context(), h.Kind, id)
	h.Audit.Record(r.Context(), h.action("deleted"), string(h.Kind), id, audit.Outcome(err), nil)
	if err != nil {
		writeError(w, r, err, h.Env)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ToggleActive handles POST /api/v1/admin/{tags|categories}/{id}/toggle-active.
func (h *AdminTaxonomyHandler) ToggleActive(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadID(w, r, h.Env)
		return
	}
	active, err := h.Terms.ToggleActive(r.Context(), h.Kind, id)
	h.Audit.Record(r.Context(), h.action("toggled"), string(h.Kind), id, audit.Outcome(err),
		map[string]string{"is_active": strconv.FormatBool(active)})
	if err != nil {
		writeError(w, r, err, h.Env)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "is_active": active})
}
