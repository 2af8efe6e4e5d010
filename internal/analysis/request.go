// Package analysis runs file_analysis jobs: it parses an uploaded text or
// CSV payload, computes statistics and asks the provider for a summary.
package analysis

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"

	"reportq/internal/domain"
)

const (
	FormatText = "text"
	FormatCSV  = "csv"
)

// MaxContentBytes bounds the payload accepted inline with a task.
const MaxContentBytes = 5 << 20

type Request struct {
	Filename string `json:"filename" validate:"required,max=255"`
	Format   string `json:"format,omitempty" validate:"omitempty,oneof=text csv"`
	Content  string `json:"content" validate:"required"`
	// Question steers the summary when set.
	Question string `json:"question,omitempty" validate:"max=500"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func ParseRequest(raw json.RawMessage) (Request, error) {
	var req Request
	if len(raw) == 0 {
		return req, domain.Validation("analysis.request", "empty input")
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return req, domain.Validation("analysis.request", "invalid input: %v", err)
	}
	req.Filename = strings.TrimSpace(req.Filename)
	if req.Format == "" {
		req.Format = formatFor(req.Filename)
	}
	if err := validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return req, domain.Validation("analysis.request", "%s failed %s", verrs[0].Namespace(), verrs[0].Tag())
		}
		return req, domain.Validation("analysis.request", "%v", err)
	}
	if len(req.Content) > MaxContentBytes {
		return req, domain.Validation("analysis.request", "content exceeds %d bytes", MaxContentBytes)
	}
	return req, nil
}

// ValidateInput checks a raw analysis request without running it.
func ValidateInput(raw json.RawMessage) error {
	_, err := ParseRequest(raw)
	return err
}

func formatFor(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return FormatCSV
	default:
		return FormatText
	}
}
