// Package handler exposes the submission pipeline over a small JSON HTTP
// API. The recorder UI is an external client; nothing here renders HTML.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	appI18n "github.com/pavelanni/oralexam/internal/i18n"
	"github.com/pavelanni/oralexam/internal/model"
	"github.com/pavelanni/oralexam/internal/pipeline"
	"github.com/pavelanni/oralexam/internal/store"
	"github.com/pavelanni/oralexam/internal/topics"
)

// Config holds runtime parameters set via CLI flags.
type Config struct {
	SecureCookies bool
	// MaxAudioBytes caps the uploaded recording size.
	MaxAudioBytes int64
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	auth    *store.SQLite
	records store.ResultStore
	pipe    *pipeline.Pipeline
	catalog *topics.Catalog
	config  Config
}

// New creates a new Handler. The auth store is always the local SQLite
// database; exam records go through whichever backend is configured.
func New(auth *store.SQLite, records store.ResultStore, pipe *pipeline.Pipeline, catalog *topics.Catalog, cfg Config) *Handler {
	if cfg.MaxAudioBytes == 0 {
		cfg.MaxAudioBytes = 32 << 20
	}
	return &Handler{auth: auth, records: records, pipe: pipe, catalog: catalog, config: cfg}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/topics", h.handleTopics)
	r.Post("/submit", h.handleSubmit)
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Get("/results", h.handleResults)

		r.Route("/admin/users", func(r chi.Router) {
			r.Use(h.requireAdmin)
			r.Get("/", h.handleAdminListUsers)
			r.Post("/", h.handleAdminCreateUser)
			r.Post("/{userID}/toggle", h.handleAdminToggleUser)
		})
	})
}

// scorecard is the JSON body returned for one graded submission.
type scorecard struct {
	Message   string             `json:"message"`
	Record    model.ExamRecord   `json:"record"`
	Remaining int                `json:"remaining_attempts"`
	Saved     bool               `json:"saved"`
	SaveError string             `json:"save_error,omitempty"`
	Prior     []model.ExamRecord `json:"prior_attempts,omitempty"`
}

func (h *Handler) handleTopics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.catalog.List())
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := r.ParseMultipartForm(h.config.MaxAudioBytes); err != nil {
		writeError(w, http.StatusBadRequest, appI18n.T(ctx, "InvalidSubmission"))
		return
	}

	var audio []byte
	if file, _, err := r.FormFile("audio"); err == nil {
		defer file.Close()
		audio, err = io.ReadAll(io.LimitReader(file, h.config.MaxAudioBytes))
		if err != nil {
			writeError(w, http.StatusBadRequest, appI18n.T(ctx, "InvalidSubmission"))
			return
		}
	}

	req := model.SubmissionRequest{
		StudentName:  r.FormValue("student_name"),
		ClassSection: r.FormValue("class_section"),
		RollNumber:   r.FormValue("roll_number"),
		Topic:        r.FormValue("topic"),
		Audio:        audio,
	}

	out, err := h.pipe.Submit(ctx, req)
	switch {
	case err == nil:
		// fall through to the scorecard
	case errors.Is(err, pipeline.ErrAttemptLimit):
		writeJSON(w, http.StatusConflict, scorecard{
			Message: appI18n.T(ctx, "AttemptLimitReached"),
			Prior:   out.Prior,
		})
		return
	default:
		var verr *pipeline.ValidationError
		if errors.As(err, &verr) {
			msg := appI18n.T(ctx, "InvalidSubmission")
			if verr.Field == "topic" {
				msg = appI18n.T(ctx, "UnknownTopic")
			}
			writeError(w, http.StatusBadRequest, msg)
			return
		}
		slog.Error("submission failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	card := scorecard{
		Message:   appI18n.Tp(ctx, "AttemptsRemaining", out.Remaining),
		Record:    out.Record,
		Remaining: out.Remaining,
		Saved:     out.SaveErr == nil,
	}
	if out.SaveErr != nil {
		// The scorecard is still returned; only the durable copy failed.
		card.Message = appI18n.T(ctx, "SaveFailed")
		card.SaveError = out.SaveErr.Error()
	}
	writeJSON(w, http.StatusOK, card)
}

func (h *Handler) handleResults(w http.ResponseWriter, r *http.Request) {
	records, err := h.records.ListAll(r.Context())
	if err != nil {
		if errors.Is(err, store.ErrNoTable) {
			writeJSON(w, http.StatusOK, []model.ExamRecord{})
			return
		}
		slog.Error("list records", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []model.ExamRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
