package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/opensource-finance/listingrisk/internal/domain"
)

// TrainingExamplesRequest is the optional body for POST /training/examples.
type TrainingExamplesRequest struct {
	Limit int `json:"limit" validate:"gte=0"`
}

// BuildTrainingExamples runs the pipeline over stored listings and stores
// one labeled example per listing.
func (h *Handler) BuildTrainingExamples(w http.ResponseWriter, r *http.Request) {
	var req TrainingExamplesRequest
	if r.ContentLength != 0 {
		if !h.decode(w, r, &req) {
			return
		}
	}

	built, err := h.Assessment.BuildTrainingExamples(r.Context(), req.Limit)
	if err != nil {
		slog.Error("failed to build training examples", "built", built, "error", err)
		writeError(w, err, "failed to build training examples")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"built": built})
}

// TrainModel trains a classifier on the stored dataset and installs it.
// When the model trains but cannot be saved, it is returned with a 500.
func (h *Handler) TrainModel(w http.ResponseWriter, r *http.Request) {
	if h.Trainer == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "training not available",
		})
		return
	}

	res, err := h.Trainer.Run(r.Context())
	if err != nil {
		slog.Error("training failed", "error", err)
		if res != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{
				"error":   "model trained but not saved",
				"model":   res.Model,
				"metrics": res.Metrics,
			})
			return
		}
		writeError(w, err, "training failed")
		return
	}

	writeJSON(w, http.StatusCreated, res)
}

// CurrentModel returns the model the predictor is serving.
func (h *Handler) CurrentModel(w http.ResponseWriter, r *http.Request) {
	if h.Predictor == nil || h.Predictor.Model() == nil {
		writeError(w, domain.ErrModelNotFound, "no model loaded")
		return
	}
	writeJSON(w, http.StatusOK, h.Predictor.Model())
}

// ReloadModel loads the current model from the store into the predictor.
func (h *Handler) ReloadModel(w http.ResponseWriter, r *http.Request) {
	if h.Predictor == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "predictor not available",
		})
		return
	}

	model, err := h.Predictor.Reload(r.Context())
	if err != nil {
		if !errors.Is(err, domain.ErrModelNotFound) {
			slog.Error("failed to reload model", "error", err)
		}
		writeError(w, err, "failed to reload model")
		return
	}

	writeJSON(w, http.StatusOK, model)
}

// PredictRequest carries either a feature vector or a listing to extract one from.
type PredictRequest struct {
	Features domain.FeatureVector   `json:"features,omitempty"`
	Listing  *domain.ListingRequest `json:"listing,omitempty"`
}

// Predict scores a feature vector with the current model. The narrative
// service is not called.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	var req PredictRequest
	if !h.decode(w, r, &req) {
		return
	}

	features := req.Features
	if req.Listing != nil {
		features = h.Assessment.Features().Extract(req.Listing.ToListing())
	}
	if len(features) != domain.FeatureCount {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": "features must have exactly 14 values, or a listing must be supplied",
		})
		return
	}

	var prediction domain.Prediction
	if h.Predictor != nil {
		prediction = h.Predictor.Predict(features)
	} else {
		prediction = domain.Prediction{Probability: 0.5}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"features":   features,
		"prediction": prediction,
	})
}
