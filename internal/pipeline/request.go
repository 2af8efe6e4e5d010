// Package pipeline runs report generation jobs stage by stage.
package pipeline

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"

	"reportq/internal/domain"
	"reportq/internal/export"
)

// Request is the input payload of a report_generation task.
type Request struct {
	ReportType string            `json:"report_type" validate:"required"`
	Title      string            `json:"title" validate:"required,max=200"`
	Parameters map[string]string `json:"parameters,omitempty"`
	Formats    []string          `json:"formats,omitempty" validate:"omitempty,max=4,unique,dive,oneof=markdown html pdf slides"`
	AIAssist   AIAssist          `json:"ai_assist"`
}

// AIAssist toggles the optional AI steps of a run.
type AIAssist struct {
	QualityCheck    bool `json:"quality_check"`
	MaxImprovements *int `json:"max_improvements,omitempty" validate:"omitempty,gte=0,lte=5"`
	SkipSafety      bool `json:"skip_safety,omitempty"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ParseRequest decodes and validates a task input. Every failure is a
// validation error and is never retried.
func ParseRequest(raw json.RawMessage) (Request, error) {
	var req Request
	if len(raw) == 0 {
		return req, domain.Validation("pipeline.request", "empty input")
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return req, domain.Validation("pipeline.request", "invalid input: %v", err)
	}
	req.ReportType = strings.TrimSpace(req.ReportType)
	req.Title = strings.TrimSpace(req.Title)
	if len(req.Formats) == 0 {
		req.Formats = []string{export.FormatMarkdown}
	}
	if err := validate.Struct(req); err != nil {
		return req, domain.Validation("pipeline.request", "%s", describe(err))
	}
	return req, nil
}

// ValidateInput checks a raw report request without running it, so that
// submitters can reject bad payloads before a task is created.
func ValidateInput(raw json.RawMessage) error {
	_, err := ParseRequest(raw)
	return err
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fe.Namespace() + " failed " + fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		parts = append(parts, msg)
	}
	return strings.Join(parts, "; ")
}

// ProjectName is the name sections are written about.
func (r Request) ProjectName() string {
	if v := strings.TrimSpace(r.Parameters["project_name"]); v != "" {
		return v
	}
	return r.Title
}
