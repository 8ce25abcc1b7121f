package batch

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/domain"
)

// Item limits per entry path.
const (
	MaxConsumerPrompts = 100
	MaxEnterpriseItems = 500
)

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// flexString accepts both "5" and 5 in JSON.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	if string(b) == "null" {
		*f = ""
		return nil
	}
	n, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("duration must be a string or number")
	}
	*f = flexString(strconv.FormatFloat(n, 'f', -1, 64))
	return nil
}

// ConsumerRequest is the body of a session-authenticated submission.
type ConsumerRequest struct {
	Prompts     []string   `json:"prompts" validate:"dive,min=5,max=4000"`
	Model       string     `json:"model" validate:"omitempty,oneof=sora-2 veo-flash veo-pro"`
	AspectRatio string     `json:"aspectRatio" validate:"omitempty,oneof=16:9 9:16"`
	Duration    flexString `json:"duration" validate:"omitempty,oneof=5 10"`
}

// EnterpriseItem is one entry of an API-key submission.
type EnterpriseItem struct {
	Prompt       string          `json:"prompt" validate:"required,max=4000"`
	Model        string          `json:"model,omitempty" validate:"omitempty,oneof=sora-2 veo-flash veo-pro"`
	ReferenceURL string          `json:"reference_url,omitempty" validate:"omitempty,url"`
	AspectRatio  string          `json:"aspect_ratio,omitempty" validate:"omitempty,oneof=16:9 9:16"`
	Duration     flexString      `json:"duration,omitempty" validate:"omitempty,oneof=5 10"`
	Meta         json.RawMessage `json:"meta,omitempty"`
}

// EnterpriseRequest is the body of an API-key submission.
type EnterpriseRequest struct {
	Items      []EnterpriseItem `json:"items" validate:"dive"`
	WebhookURL string           `json:"webhook_url,omitempty" validate:"omitempty,url,startswith=http"`
}

// DecodeConsumer parses and validates a consumer body.
func DecodeConsumer(r io.Reader) (*ConsumerRequest, error) {
	var req ConsumerRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, invalidPayload("request body must be valid JSON", err)
	}
	if err := req.normalize(); err != nil {
		return nil, err
	}
	return &req, nil
}

// DecodeEnterprise parses and validates an enterprise body.
func DecodeEnterprise(r io.Reader) (*EnterpriseRequest, error) {
	var req EnterpriseRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, invalidPayload("request body must be valid JSON", err)
	}
	if err := req.normalize(); err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *ConsumerRequest) normalize() error {
	if len(r.Prompts) == 0 {
		return invalidPayload("prompts must contain at least one entry", nil)
	}
	if len(r.Prompts) > MaxConsumerPrompts {
		return tooManyItems(MaxConsumerPrompts)
	}
	for i := range r.Prompts {
		r.Prompts[i] = strings.TrimSpace(r.Prompts[i])
		if hasNUL(r.Prompts[i]) {
			return invalidPayload(fmt.Sprintf("prompts[%d] must not contain NUL characters", i), nil)
		}
	}
	r.Model = orDefault(foldEnum(r.Model), domain.DefaultModel)
	r.AspectRatio = orDefault(strings.TrimSpace(r.AspectRatio), domain.DefaultAspectRatio)
	r.Duration = flexString(orDefault(strings.TrimSpace(string(r.Duration)), domain.DefaultDuration))
	if err := validate.Struct(r); err != nil {
		return invalidPayload(describe(err), err)
	}
	return nil
}

func (r *EnterpriseRequest) normalize() error {
	if len(r.Items) == 0 {
		return invalidPayload("items must contain at least one entry", nil)
	}
	if len(r.Items) > MaxEnterpriseItems {
		return tooManyItems(MaxEnterpriseItems)
	}
	for i := range r.Items {
		it := &r.Items[i]
		it.Prompt = strings.TrimSpace(it.Prompt)
		it.Model = orDefault(foldEnum(it.Model), domain.DefaultModel)
		it.ReferenceURL = strings.TrimSpace(it.ReferenceURL)
		it.AspectRatio = orDefault(strings.TrimSpace(it.AspectRatio), domain.DefaultAspectRatio)
		it.Duration = flexString(orDefault(strings.TrimSpace(string(it.Duration)), domain.DefaultDuration))
		if string(it.Meta) == "null" {
			it.Meta = nil
		}
		if hasNUL(it.Prompt) {
			return invalidPayload(fmt.Sprintf("items[%d].prompt must not contain NUL characters", i), nil)
		}
		if bytes.Contains(it.Meta, []byte(`\u0000`)) {
			return invalidPayload(fmt.Sprintf("items[%d].meta must not contain NUL characters", i), nil)
		}
	}
	r.WebhookURL = strings.TrimSpace(r.WebhookURL)
	if err := validate.Struct(r); err != nil {
		return invalidPayload(describe(err), err)
	}
	return nil
}

// foldEnum lower-cases model names so "Sora-2" and "SORA-2" are accepted.
func foldEnum(s string) string {
	return cases.Lower(language.Und).String(strings.TrimSpace(s))
}

// hasNUL reports a NUL byte, which Postgres text and jsonb columns reject.
func hasNUL(s string) bool {
	return strings.IndexByte(s, 0) >= 0
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// describe turns the first validation failure into a client-facing message.
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request body"
	}
	fe := verrs[0]
	field := jsonPath(fe.Namespace())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "url", "startswith":
		return field + " must be an http(s) URL"
	default:
		return field + " is invalid"
	}
}

// jsonPath drops the root type from "EnterpriseRequest.items[3].prompt".
func jsonPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}
