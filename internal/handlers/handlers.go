package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"gorgonia.org/tensor"

	"github.com/Brownie44l1/xray-api/internal/analysis"
	"github.com/Brownie44l1/xray-api/internal/hub"
	"github.com/Brownie44l1/xray-api/internal/model"
	"github.com/Brownie44l1/xray-api/internal/preprocess"
	"github.com/Brownie44l1/xray-api/internal/storage/sqlite"
)

// formOverhead is the room left in a multipart body for the boundaries and
// part headers around a file of the maximum upload size.
const formOverhead = 64 << 10

type Handler struct {
	analyzer  *analysis.Analyzer
	store     *sqlite.AnalysisRepository
	hub       *hub.Hub
	metadata  model.Metadata
	maxUpload int64
	notify    func(ctx context.Context)
	logger    *slog.Logger
}

// Deps are the collaborators of a Handler. Store and Hub may be nil when
// history is disabled. Notify runs after a delete changed the history.
type Deps struct {
	Analyzer  *analysis.Analyzer
	Store     *sqlite.AnalysisRepository
	Hub       *hub.Hub
	Metadata  model.Metadata
	MaxUpload int64
	Notify    func(ctx context.Context)
	Logger    *slog.Logger
}

func NewHandler(d Deps) *Handler {
	return &Handler{
		analyzer:  d.Analyzer,
		store:     d.Store,
		hub:       d.Hub,
		metadata:  d.Metadata,
		maxUpload: d.MaxUpload,
		notify:    d.Notify,
		logger:    d.Logger,
	}
}

type PredictionRequest struct {
	Image []float32 `json:"image"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Predict classifies an already preprocessed (1,224,224,3) input sent as a flat array.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)

	var req PredictionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	expectedSize := h.metadata.InputSize()
	if len(req.Image) != expectedSize {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("Expected %d values, got %d", expectedSize, len(req.Image)))
		return
	}

	for i, v := range req.Image {
		if !(v >= 0 && v <= 1) {
			writeError(w, http.StatusBadRequest,
				fmt.Sprintf("Value %d is %g, expected a value in [0, 1]", i, v))
			return
		}
	}

	input := tensor.New(tensor.WithShape(preprocess.Shape()...), tensor.WithBacking(req.Image))
	result, err := h.analyzer.AnalyzeTensor(r.Context(), input)
	if err != nil {
		h.logger.Error("prediction failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Prediction failed")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// PredictFromImage analyses an uploaded image and returns the report as JSON.
func (h *Handler) PredictFromImage(w http.ResponseWriter, r *http.Request) {
	report, status, msg := h.analyzeUpload(w, r)
	if report == nil {
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// analyzeUpload runs the multipart "image" field through the analyzer. On
// failure the report is nil and status and msg describe the error for the user.
func (h *Handler) analyzeUpload(w http.ResponseWriter, r *http.Request) (*analysis.Report, int, string) {
	tooLarge := fmt.Sprintf("Image exceeds the %d MB upload limit", h.maxUpload>>20)
	bodyLimit := h.maxUpload + formOverhead
	if r.ContentLength > bodyLimit {
		return nil, http.StatusRequestEntityTooLarge, tooLarge
	}
	r.Body = http.MaxBytesReader(w, r.Body, bodyLimit)

	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, http.StatusRequestEntityTooLarge, tooLarge
		}
		return nil, http.StatusBadRequest, "Failed to parse form"
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("image")
	if err != nil {
		return nil, http.StatusBadRequest, "No image file provided. Use 'image' as the form field name"
	}
	defer file.Close()
	if header.Size > h.maxUpload {
		return nil, http.StatusRequestEntityTooLarge, tooLarge
	}

	h.logger.Debug("received upload", "filename", header.Filename, "size", header.Size)

	report, err := h.analyzer.Analyze(r.Context(), file, header.Filename)
	switch {
	case err == nil:
		return report, http.StatusOK, ""
	case errors.Is(err, preprocess.ErrInvalidImage):
		h.logger.Info("rejected upload", "filename", header.Filename, "error", err)
		return nil, http.StatusBadRequest, "Invalid image format. Supported: JPEG, PNG, BMP, TIFF, WebP"
	default:
		h.logger.Error("analysis failed", "filename", header.Filename, "error", err)
		return nil, http.StatusInternalServerError, "Prediction failed"
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
