package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"distress.org/internal/cases"
)

type createCaseRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
}

type updateCaseRequest struct {
	Title           *string `json:"title"`
	Description     *string `json:"description"`
	Priority        *string `json:"priority"`
	ResolutionNotes *string `json:"resolution_notes"`
}

type assignRequest struct {
	AssignedTo   string `json:"assigned_to"`
	Instructions string `json:"instructions"`
}

type reassignRequest struct {
	AssignedTo string `json:"assigned_to"`
	Reason     string `json:"reason"`
}

type completeRequest struct {
	Notes string `json:"notes"`
}

type transitionRequest struct {
	Status          string `json:"status"`
	AssignedTo      string `json:"assigned_to"`
	ResolutionNotes string `json:"resolution_notes"`
}

type caseResponse struct {
	Case         *cases.Case       `json:"case"`
	Assignment   *cases.Assignment `json:"assignment,omitempty"`
	AuditPending bool              `json:"audit_pending,omitempty"`
}

type listCasesResponse struct {
	Items []*cases.Case `json:"items"`
}

type listAssignmentsResponse struct {
	Items []*cases.Assignment `json:"items"`
}

func (a *API) handleCasesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createCase(w, r)
	case http.MethodGet:
		a.listCases(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodGet)
	}
}

func (a *API) handleCaseResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/cases/")
	path = strings.Trim(path, "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	caseID := parts[0]

	switch len(parts) {
	case 1:
		switch r.Method {
		case http.MethodGet:
			a.getCase(w, r, caseID)
		case http.MethodPatch:
			a.updateCase(w, r, caseID)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodPatch)
		}
	case 2:
		switch parts[1] {
		case "assignments":
			if r.Method != http.MethodGet {
				methodNotAllowed(w, r, http.MethodGet)
				return
			}
			a.listAssignments(w, r, caseID)
		case "assign":
			a.assignCase(w, r, caseID)
		case "reassign":
			a.reassignCase(w, r, caseID)
		case "complete":
			a.completeCase(w, r, caseID)
		case "unassign":
			a.unassignCase(w, r, caseID)
		case "transition":
			a.transitionCase(w, r, caseID)
		default:
			writeError(w, r, http.StatusNotFound, "resource not found")
		}
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleAssignmentResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/assignments/")
	path = strings.Trim(path, "/")
	if path == "" || strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	id, ok := identity(w, r)
	if !ok {
		return
	}
	assignment, err := a.engine.GetAssignment(r.Context(), id, path)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, assignment)
}

func (a *API) createCase(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req createCaseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, r, http.StatusBadRequest, "title is required")
		return
	}
	priority, ok := cases.ParsePriority(req.Priority)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "unknown priority")
		return
	}

	out, err := a.engine.CreateCase(r.Context(), id, cases.NewCase{
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		Priority:    priority,
	})
	if err != nil {
		handleEngineError(w, r, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/v1/cases/%s", out.Case.ID))
	writeJSON(w, http.StatusCreated, caseResponse{Case: out.Case, AuditPending: out.AuditGap})
}

func (a *API) listCases(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	f, err := parseCaseFilter(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	items, err := a.engine.ListCases(r.Context(), id, f)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listCasesResponse{Items: items})
}

func (a *API) getCase(w http.ResponseWriter, r *http.Request, caseID string) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	c, err := a.engine.GetCase(r.Context(), id, caseID)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, caseResponse{Case: c})
}

func (a *API) updateCase(w http.ResponseWriter, r *http.Request, caseID string) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req updateCaseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	upd := cases.CaseUpdate{
		Title:           req.Title,
		Description:     req.Description,
		ResolutionNotes: req.ResolutionNotes,
	}
	if req.Priority != nil {
		priority, ok := cases.ParsePriority(*req.Priority)
		if !ok {
			writeError(w, r, http.StatusBadRequest, "unknown priority")
			return
		}
		upd.Priority = &priority
	}

	out, err := a.engine.UpdateCase(r.Context(), id, caseID, upd)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, caseResponse{Case: out.Case, AuditPending: out.AuditGap})
}

func (a *API) assignCase(w http.ResponseWriter, r *http.Request, caseID string) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req assignRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.AssignedTo) == "" {
		writeError(w, r, http.StatusBadRequest, "assigned_to is required")
		return
	}

	assignment, c, err := a.engine.Assign(r.Context(), id, caseID, strings.TrimSpace(req.AssignedTo), req.Instructions)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, caseResponse{Case: c, Assignment: assignment})
}

// reassignCase resolves the active assignment of the case and hands it to a
// new assignee.
func (a *API) reassignCase(w http.ResponseWriter, r *http.Request, caseID string) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req reassignRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.AssignedTo) == "" {
		writeError(w, r, http.StatusBadRequest, "assigned_to is required")
		return
	}

	active, err := a.engine.ActiveAssignment(r.Context(), id, caseID)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	assignment, c, err := a.engine.Reassign(r.Context(), id, active.ID, strings.TrimSpace(req.AssignedTo), req.Reason)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, caseResponse{Case: c, Assignment: assignment})
}

func (a *API) completeCase(w http.ResponseWriter, r *http.Request, caseID string) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req completeRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, errBodyRequired) {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	active, err := a.engine.ActiveAssignment(r.Context(), id, caseID)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	assignment, c, err := a.engine.Complete(r.Context(), id, active.ID, req.Notes)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, caseResponse{Case: c, Assignment: assignment})
}

func (a *API) unassignCase(w http.ResponseWriter, r *http.Request, caseID string) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	c, err := a.engine.Unassign(r.Context(), id, caseID)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, caseResponse{Case: c})
}

func (a *API) transitionCase(w http.ResponseWriter, r *http.Request, caseID string) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req transitionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	to, ok := cases.ParseStatus(req.Status)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "unknown status")
		return
	}

	c, err := a.engine.ApplyTransition(r.Context(), id, caseID, to, cases.TransitionFields{
		AssignedTo:      strings.TrimSpace(req.AssignedTo),
		ResolutionNotes: req.ResolutionNotes,
	})
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, caseResponse{Case: c})
}

func (a *API) listAssignments(w http.ResponseWriter, r *http.Request, caseID string) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	items, err := a.engine.ListAssignments(r.Context(), id, caseID)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listAssignmentsResponse{Items: items})
}

var errBodyRequired = errors.New("request body is required")

func parseCaseFilter(r *http.Request) (cases.Filter, error) {
	q := r.URL.Query()
	var f cases.Filter

	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		status, ok := cases.ParseStatus(raw)
		if !ok {
			return f, errors.New("unknown status filter")
		}
		f.Status = status
	}
	if raw := strings.TrimSpace(q.Get("priority")); raw != "" {
		priority, ok := cases.ParsePriority(raw)
		if !ok {
			return f, errors.New("unknown priority filter")
		}
		f.Priority = priority
	}
	f.AssignedTo = strings.TrimSpace(q.Get("assigned_to"))
	f.CreatedBy = strings.TrimSpace(q.Get("created_by"))

	limit, err := parseBoundedInt(q.Get("limit"), 100, 1, 500)
	if err != nil {
		return f, err
	}
	f.Limit = limit
	offset, err := parseBoundedInt(q.Get("offset"), 0, 0, 1<<20)
	if err != nil {
		return f, err
	}
	f.Offset = offset
	return f, nil
}

func parseBoundedInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("value must be an integer")
	}
	if val < min || val > max {
		return 0, fmt.Errorf("value must be between %d and %d", min, max)
	}
	return val, nil
}
