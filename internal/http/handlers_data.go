package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"tally/internal/core"
	"tally/internal/filter"
	"tally/internal/log"
)

func (s *Server) handleProjection(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sessionFrom(r).session.Shell().Projection())
}

func (s *Server) handleSetFilter(w http.ResponseWriter, r *http.Request) {
	var in filterInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeError(w, r, "set_filter", err)
		return
	}
	f, err := in.filter()
	if err != nil {
		s.writeError(w, r, "set_filter", err)
		return
	}
	shell := sessionFrom(r).session.Shell()
	if err := shell.SetFilter(f); err != nil {
		s.writeError(w, r, "set_filter", err)
		return
	}
	writeJSON(w, http.StatusOK, shell.Projection())
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	shell := sessionFrom(r).session.Shell()
	if _, err := requireReady(shell); err != nil {
		s.writeError(w, r, "analytics", err)
		return
	}
	writeJSON(w, http.StatusOK, shell.Analytics())
}

// handleListExpenses returns the visible expenses. Query parameters, when
// present, select a one-off filter over all expenses instead.
func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	p, err := requireReady(sessionFrom(r).session.Shell())
	if err != nil {
		s.writeError(w, r, "list_expenses", err)
		return
	}
	if len(r.URL.Query()) == 0 {
		writeJSON(w, http.StatusOK, p.Visible)
		return
	}
	f, err := filterFromQuery(r.URL.Query())
	if err != nil {
		s.writeError(w, r, "list_expenses", err)
		return
	}
	writeJSON(w, http.StatusOK, filter.ApplyAt(p.Expenses, f, s.now()))
}

func (s *Server) handleAddExpense(w http.ResponseWriter, r *http.Request) {
	var in core.ExpenseInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeError(w, r, "add_expense", err)
		return
	}
	e, err := sessionFrom(r).session.Shell().AddExpense(r.Context(), in)
	if err != nil {
		s.writeError(w, r, "add_expense", err)
		return
	}
	log.FromContext(r.Context()).DebugContext(r.Context(), "Expense added via API", log.FieldExpenseID, e.ID)
	writeJSON(w, http.StatusCreated, e)
}

func (s *Server) handleUpdateExpense(w http.ResponseWriter, r *http.Request) {
	var in core.ExpenseInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeError(w, r, "update_expense", err)
		return
	}
	e, err := expenseFromInput(chi.URLParam(r, "id"), in)
	if err != nil {
		s.writeError(w, r, "update_expense", err)
		return
	}
	shell := sessionFrom(r).session.Shell()
	if err := shell.UpdateExpense(r.Context(), e); err != nil {
		s.writeError(w, r, "update_expense", err)
		return
	}
	writeJSON(w, http.StatusOK, shell.Projection())
}

func (s *Server) handleRemoveExpense(w http.ResponseWriter, r *http.Request) {
	if err := sessionFrom(r).session.Shell().RemoveExpense(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, "remove_expense", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	p, err := requireReady(sessionFrom(r).session.Shell())
	if err != nil {
		s.writeError(w, r, "list_categories", err)
		return
	}
	writeJSON(w, http.StatusOK, p.Categories)
}

func (s *Server) handleAddCategory(w http.ResponseWriter, r *http.Request) {
	var in core.CategoryInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeError(w, r, "add_category", err)
		return
	}
	c, err := sessionFrom(r).session.Shell().AddCategory(r.Context(), in)
	if err != nil {
		s.writeError(w, r, "add_category", err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

type budgetInput struct {
	Budget string `json:"budget"`
}

func (s *Server) handleUpdateBudget(w http.ResponseWriter, r *http.Request) {
	var in budgetInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeError(w, r, "update_budget", err)
		return
	}
	shell := sessionFrom(r).session.Shell()
	if err := shell.UpdateCategoryBudget(r.Context(), chi.URLParam(r, "id"), in.Budget); err != nil {
		s.writeError(w, r, "update_budget", err)
		return
	}
	writeJSON(w, http.StatusOK, shell.Projection().Categories)
}

func (s *Server) handleRemoveCategory(w http.ResponseWriter, r *http.Request) {
	if err := sessionFrom(r).session.Shell().RemoveCategory(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, "remove_category", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
