package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/listingrisk/internal/domain"
	"github.com/opensource-finance/listingrisk/internal/repository"
)

// ListRules returns the rules loaded in the engine.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	var loaded []*domain.RuleConfig
	if h.Engine != nil {
		loaded = h.Engine.GetLoadedRules()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rules": loaded,
		"count": len(loaded),
	})
}

// GetRule retrieves a rule by ID, preferring the loaded engine copy.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	if h.Engine != nil {
		for _, rule := range h.Engine.GetLoadedRules() {
			if rule.ID == ruleID {
				writeJSON(w, http.StatusOK, rule)
				return
			}
		}
	}

	rule, err := h.Repo.GetRuleConfig(r.Context(), ruleID)
	if err != nil {
		writeError(w, err, "rule not found")
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// CreateRuleRequest is the request body for creating a rule.
type CreateRuleRequest struct {
	ID          string            `json:"id" validate:"required"`
	Name        string            `json:"name" validate:"required"`
	Description string            `json:"description,omitempty"`
	Version     string            `json:"version,omitempty"`
	Expression  string            `json:"expression" validate:"required"`
	Bands       []domain.RuleBand `json:"bands" validate:"dive"`
	Weight      float64           `json:"weight" validate:"gte=0"`
	Enabled     bool              `json:"enabled"`
}

// CreateRule validates a rule and saves it. POST /rules/reload applies it.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	if h.Engine == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "rule engine not available",
		})
		return
	}

	var req CreateRuleRequest
	if !h.decode(w, r, &req) {
		return
	}

	version := req.Version
	if version == "" {
		version = "1.0.0"
	}
	rule := &domain.RuleConfig{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Version:     version,
		Expression:  req.Expression,
		Bands:       req.Bands,
		Weight:      req.Weight,
		Enabled:     req.Enabled,
	}

	if err := h.Engine.ValidateRule(rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid CEL expression: " + err.Error(),
		})
		return
	}

	if err := h.Repo.SaveRuleConfig(r.Context(), rule); err != nil {
		slog.Error("failed to save rule config", "id", rule.ID, "error", err)
		writeError(w, err, "failed to save rule")
		return
	}

	slog.Info("rule created", "id", rule.ID, "name", rule.Name)
	writeJSON(w, http.StatusCreated, map[string]any{
		"rule":    rule,
		"message": "Rule created. Call POST /rules/reload to apply changes.",
	})
}

// ReloadRules replaces the engine's rules with the enabled rules in the repository.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	if h.Engine == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "rule engine not available",
		})
		return
	}

	stored, err := h.Repo.ListRuleConfigs(r.Context())
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		slog.Error("failed to list rules from database", "error", err)
		writeError(w, err, "failed to load rules from database")
		return
	}

	if err := h.Engine.ReloadRules(stored); err != nil {
		slog.Error("failed to reload rules into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	slog.Info("rules reloaded from database", "count", len(stored))
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   len(stored),
	})
}
