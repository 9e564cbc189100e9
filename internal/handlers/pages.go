package handlers

import (
	"bytes"
	"embed"
	"encoding/base64"
	"fmt"
	"html/template"
	"image"
	"image/jpeg"
	"net/http"
	"time"

	"github.com/Brownie44l1/xray-api/internal/analysis"
	"github.com/Brownie44l1/xray-api/internal/preprocess"
	"github.com/Brownie44l1/xray-api/internal/storage/sqlite"
)

//go:embed templates/*.html
var templatesFS embed.FS

var pageTemplate = template.Must(template.New("index.html").Funcs(template.FuncMap{
	"percent": func(v float64) string { return fmt.Sprintf("%.2f", v) },
	"chance":  func(p float64) string { return fmt.Sprintf("%.2f%%", p*100) },
	"seconds": func(d time.Duration) string { return fmt.Sprintf("%.2fs", d.Seconds()) },
	"stamp":   func(t time.Time) string { return t.Format("2006-01-02 15:04") },
}).ParseFS(templatesFS, "templates/index.html"))

const recentOnPage = 5

type pageData struct {
	Stats          analysis.Stats
	HistoryEnabled bool
	Recent         []analysis.Report
	Result         *analysis.Report
	Preview        template.URL
	Error          string
	MaxUploadMB    int64
}

// Index renders the dashboard.
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	h.render(w, r, http.StatusOK, pageData{})
}

// Analyze handles the dashboard's upload form and renders the result on the page.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	report, status, msg := h.analyzeUpload(w, r)
	data := pageData{Result: report, Error: msg}
	if report != nil && report.Source != nil {
		preview, err := previewURL(report.Source)
		if err != nil {
			h.logger.Warn("failed to encode preview", "filename", report.Filename, "error", err)
		}
		data.Preview = preview
	}
	h.render(w, r, status, data)
}

// previewURL encodes a thumbnail of img as a JPEG data URI.
func previewURL(img image.Image) (template.URL, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, preprocess.Thumbnail(img), &jpeg.Options{Quality: 80}); err != nil {
		return "", err
	}
	return template.URL("data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())), nil
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, data pageData) {
	data.HistoryEnabled = h.store != nil
	data.MaxUploadMB = h.maxUpload >> 20

	stats, err := h.stats(r.Context())
	if err != nil {
		h.logger.Warn("failed to load statistics for dashboard", "error", err)
	}
	data.Stats = stats

	if h.store != nil {
		recent, err := h.store.List(r.Context(), sqlite.Filter{Limit: recentOnPage})
		if err != nil {
			h.logger.Warn("failed to load recent analyses", "error", err)
		}
		data.Recent = recent
	}

	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, data); err != nil {
		h.logger.Error("failed to render dashboard", "error", err)
		http.Error(w, "Failed to render page", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}
