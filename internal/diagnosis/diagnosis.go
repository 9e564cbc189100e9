// Package diagnosis maps the classifier's probability of pneumonia onto the
// label and confidence shown to the user.
package diagnosis

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

const (
	LabelPneumonia = "Pneumonia Detected"
	LabelNormal    = "Normal"

	// Threshold separates the two labels. A probability equal to Threshold is Normal.
	Threshold = 0.5
)

// ErrProbabilityRange is returned for probabilities that are NaN or outside [0,1].
var ErrProbabilityRange = errors.New("probability out of range")

// Diagnosis is the decision for one image.
type Diagnosis struct {
	Label       string  `json:"label"`
	Positive    bool    `json:"positive"`
	Confidence  float64 `json:"confidence"`
	Probability float64 `json:"probability"`
}

// Decide converts p, the probability of pneumonia, into a Diagnosis. Confidence
// is the probability of the chosen label as a percentage, so it is never below 50.
func Decide(p float64) (Diagnosis, error) {
	if math.IsNaN(p) || p < 0 || p > 1 {
		return Diagnosis{}, fmt.Errorf("%w: %v", ErrProbabilityRange, p)
	}

	if p > Threshold {
		return Diagnosis{
			Label:       LabelPneumonia,
			Positive:    true,
			Confidence:  p * 100,
			Probability: p,
		}, nil
	}
	return Diagnosis{
		Label:       LabelNormal,
		Confidence:  (1 - p) * 100,
		Probability: p,
	}, nil
}

// Percent formats the confidence for display with two decimals.
func (d Diagnosis) Percent() string {
	return fmt.Sprintf("%.2f%%", d.Confidence)
}

// Advice is the alert text shown next to the result.
func (d Diagnosis) Advice() string {
	if d.Positive {
		return "Pneumonia detected! Please consult a doctor."
	}
	return "Lungs appear normal."
}

// ParseLabel accepts a label or a short alias ("pneumonia", "normal") and
// returns the canonical label. An empty string stays empty.
func ParseLabel(s string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return "", nil
	case "pneumonia", "positive", strings.ToLower(LabelPneumonia):
		return LabelPneumonia, nil
	case "normal", "negative":
		return LabelNormal, nil
	default:
		return "", fmt.Errorf("unknown label %q", s)
	}
}
