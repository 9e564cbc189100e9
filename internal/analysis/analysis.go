// Package analysis runs one uploaded image through decode, preprocessing,
// classification and the diagnosis decision.
package analysis

import (
	"context"
	"fmt"
	"image"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorgonia.org/tensor"

	"github.com/Brownie44l1/xray-api/internal/diagnosis"
	"github.com/Brownie44l1/xray-api/internal/logging"
	"github.com/Brownie44l1/xray-api/internal/model"
	"github.com/Brownie44l1/xray-api/internal/preprocess"
)

// Report is the outcome of one analysis.
type Report struct {
	ID        uuid.UUID           `json:"id"`
	Filename  string              `json:"filename"`
	Format    string              `json:"format"`
	Width     int                 `json:"width"`
	Height    int                 `json:"height"`
	Diagnosis diagnosis.Diagnosis `json:"diagnosis"`
	Duration  time.Duration       `json:"duration_ns"`
	CreatedAt time.Time           `json:"created_at"`

	// Source is the decoded upload. It lives only as long as the report
	// value and is never serialized or stored.
	Source image.Image `json:"-"`
}

// Stats summarises the recorded history.
type Stats struct {
	Total           int           `json:"total"`
	Pneumonia       int           `json:"pneumonia"`
	Normal          int           `json:"normal"`
	AverageDuration time.Duration `json:"average_duration_ns"`
	LastAnalyzedAt  *time.Time    `json:"last_analyzed_at,omitempty"`
	ModelAccuracy   float64       `json:"model_accuracy,omitempty"`
}

// AverageSeconds is AverageDuration in seconds, for display.
func (s Stats) AverageSeconds() float64 {
	return s.AverageDuration.Seconds()
}

// Recorder persists reports.
type Recorder interface {
	Insert(ctx context.Context, r *Report) error
}

// Analyzer holds the classifier handle shared by every request.
type Analyzer struct {
	classifier model.Classifier
	recorder   Recorder
	notify     func(ctx context.Context)
	maxPixels  int
	logger     *slog.Logger
	now        func() time.Time
}

type Option func(*Analyzer)

// WithRecorder stores every successful report.
func WithRecorder(r Recorder) Option {
	return func(a *Analyzer) { a.recorder = r }
}

// WithNotify is called after a report has been recorded.
func WithNotify(fn func(ctx context.Context)) Option {
	return func(a *Analyzer) { a.notify = fn }
}

// WithMaxPixels bounds the pixel count of uploads. Zero or less disables the check.
func WithMaxPixels(n int) Option {
	return func(a *Analyzer) { a.maxPixels = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(a *Analyzer) { a.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) { a.now = now }
}

func New(classifier model.Classifier, opts ...Option) *Analyzer {
	a := &Analyzer{
		classifier: classifier,
		maxPixels:  preprocess.DefaultMaxPixels,
		logger:     logging.Discard(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze decodes r and classifies it. Undecodable or oversized input fails
// with preprocess.ErrInvalidImage.
func (a *Analyzer) Analyze(ctx context.Context, r io.Reader, filename string) (*Report, error) {
	start := a.now()

	img, format, err := preprocess.DecodeLimit(r, a.maxPixels)
	if err != nil {
		return nil, err
	}
	bounds := img.Bounds()
	a.logger.Debug("image decoded", "filename", filename, "format", format,
		"width", bounds.Dx(), "height", bounds.Dy())

	d, err := a.decide(ctx, preprocess.Preprocess(img))
	if err != nil {
		return nil, err
	}

	report := &Report{
		ID:        uuid.New(),
		Filename:  filename,
		Format:    format,
		Width:     bounds.Dx(),
		Height:    bounds.Dy(),
		Diagnosis: d,
		CreatedAt: start.UTC(),
		Source:    img,
	}
	report.Duration = a.now().Sub(start)

	a.record(ctx, report)
	return report, nil
}

// AnalyzeTensor classifies an already preprocessed input. Nothing is recorded.
func (a *Analyzer) AnalyzeTensor(ctx context.Context, input *tensor.Dense) (diagnosis.Diagnosis, error) {
	return a.decide(ctx, input)
}

func (a *Analyzer) decide(ctx context.Context, input *tensor.Dense) (diagnosis.Diagnosis, error) {
	p, err := a.classifier.Classify(ctx, input)
	if err != nil {
		return diagnosis.Diagnosis{}, fmt.Errorf("classification failed: %w", err)
	}
	d, err := diagnosis.Decide(float64(p))
	if err != nil {
		return diagnosis.Diagnosis{}, err
	}
	return d, nil
}

func (a *Analyzer) record(ctx context.Context, report *Report) {
	a.logger.Info("analysis complete",
		"id", report.ID,
		"filename", report.Filename,
		"label", report.Diagnosis.Label,
		"confidence", report.Diagnosis.Percent(),
		"duration", report.Duration)

	if a.recorder == nil {
		return
	}
	if err := a.recorder.Insert(ctx, report); err != nil {
		a.logger.Error("failed to record analysis", "id", report.ID, "error", err)
		return
	}
	if a.notify != nil {
		a.notify(ctx)
	}
}
