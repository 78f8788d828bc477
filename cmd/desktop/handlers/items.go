package handlers

import (
	"net/http"
	"strings"

	"github.com/kimhsiao/curio/internal/catalog"
)

// ItemsHandler serves catalog items, ordering, tags and link previews.
type ItemsHandler struct {
	svc *catalog.Service
}

// NewItemsHandler creates a new ItemsHandler.
func NewItemsHandler(svc *catalog.Service) *ItemsHandler {
	return &ItemsHandler{svc: svc}
}

// OrderRequest is either a full order or a single move.
type OrderRequest struct {
	Order []string `json:"order"`
	ID    string   `json:"id"`
	Index int      `json:"index"`
}

// Collection handles GET and POST /api/items
func (h *ItemsHandler) Collection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.list(w, r)
	case http.MethodPost:
		h.create(w, r)
	default:
		methodNotAllowed(w)
	}
}

// Item handles GET, PATCH and DELETE /api/items/{id}
func (h *ItemsHandler) Item(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		badRequest(w, "item id is required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		item, err := h.svc.Get(id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
	case http.MethodPatch:
		h.update(w, r, id)
	case http.MethodDelete:
		if err := h.svc.Delete(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

// list handles GET /api/items?tags=a,b&match=all&sort=newest
func (h *ItemsHandler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := catalog.Query{
		Tags:     splitTags(q.Get("tags")),
		MatchAll: q.Get("match") == "all",
		Sort:     catalog.ParseSortMode(q.Get("sort")),
	}
	items := h.svc.View(query)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": items,
		"total": len(items),
		"sort":  query.Sort,
	})
}

func (h *ItemsHandler) create(w http.ResponseWriter, r *http.Request) {
	var draft catalog.Draft
	if !decodeBody(w, r, &draft) {
		return
	}
	item, err := h.svc.Add(r.Context(), draft)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

// update applies a PATCH body as one edit; nothing is saved when any
// field is invalid.
func (h *ItemsHandler) update(w http.ResponseWriter, r *http.Request, id string) {
	var patch catalog.Patch
	if !decodeBody(w, r, &patch) {
		return
	}
	item, err := h.svc.Update(r.Context(), id, patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// Order handles POST /api/order
func (h *ItemsHandler) Order(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req OrderRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var (
		order []string
		err   error
	)
	switch {
	case req.ID != "":
		order, err = h.svc.Move(r.Context(), req.ID, req.Index)
	case req.Order != nil:
		order, err = h.svc.SetOrder(r.Context(), req.Order)
	default:
		badRequest(w, "order or id is required")
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"order": order})
}

// Tags handles GET /api/tags
func (h *ItemsHandler) Tags(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tags": h.svc.Tags()})
}

// Preview handles GET /api/preview?url=
func (h *ItemsHandler) Preview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	raw := r.URL.Query().Get("url")
	if raw == "" {
		badRequest(w, "url is required")
		return
	}
	p, err := h.svc.Preview(r.Context(), raw)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func splitTags(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return strings.Split(s, ",")
}
