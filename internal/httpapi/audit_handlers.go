package httpapi

import (
	"net/http"
	"strings"

	"distress.org/internal/audit"
)

type listAuditResponse struct {
	Items []*audit.Entry `json:"items"`
}

func (a *API) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	id, ok := identity(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	limit, err := parseBoundedInt(q.Get("limit"), 100, 1, 500)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := parseBoundedInt(q.Get("offset"), 0, 0, 1<<20)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	f := audit.Filter{
		ActorID:    strings.TrimSpace(q.Get("actor_id")),
		Action:     strings.TrimSpace(q.Get("action")),
		EntityType: strings.TrimSpace(q.Get("entity_type")),
		EntityID:   strings.TrimSpace(q.Get("entity_id")),
		Limit:      limit,
		Offset:     offset,
	}

	items, err := a.engine.ListAuditEntries(r.Context(), id, f)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listAuditResponse{Items: items})
}
