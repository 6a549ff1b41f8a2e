// Package validation holds input checks shared by handlers and services.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/spaceplaces/server/internal/slug"
)

// FieldErrors maps JSON field names to a display-safe message.
type FieldErrors map[string]string

func (e FieldErrors) Error() string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// AsMap converts the errors for problem.WithErrors.
func (e FieldErrors) AsMap() map[string]interface{} {
	out := make(map[string]interface{}, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}

// Rule is the check a field failed: a message key suffix plus the rule
// parameter, if any.
type Rule struct {
	Tag   string
	Param string
}

// Key is the message catalog key for the rule.
func (r Rule) Key() string {
	if r.Tag == "" {
		return "validation.invalid"
	}
	return "validation." + r.Tag
}

// Message is the English wording of the rule, used by the JSON API.
func (r Rule) Message() string {
	switch r.Tag {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "max":
		return fmt.Sprintf("must be at most %s characters", r.Param)
	case "min":
		return fmt.Sprintf("must be at least %s characters", r.Param)
	case "len":
		return fmt.Sprintf("must be exactly %s characters", r.Param)
	case "oneof":
		return fmt.Sprintf("must be one of: %s", r.Param)
	case "latitude":
		return "must be between -90 and 90"
	case "longitude":
		return "must be between -180 and 180"
	case "slug":
		return "must contain only lowercase letters, digits and dashes"
	case "gt":
		return fmt.Sprintf("must be greater than %s", r.Param)
	case "immutable":
		return "cannot be changed"
	default:
		return "is invalid"
	}
}

// Violations is the error Struct returns. It unwraps to its FieldErrors and
// keeps the failed Rule per field so pages can word it in their locale.
type Violations struct {
	Fields FieldErrors
	Rules  map[string]Rule
}

func (v *Violations) Error() string { return v.Fields.Error() }

func (v *Violations) Unwrap() error { return v.Fields }

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("slug", func(fl validator.FieldLevel) bool {
		return slug.Valid(fl.Field().String())
	})
	return v
}

// Struct validates v against its `validate` tags. It returns *Violations,
// which unwraps to FieldErrors, for rule violations and a plain error for
// programming mistakes.
func Struct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate: %w", err)
	}
	out := &Violations{
		Fields: make(FieldErrors, len(verrs)),
		Rules:  make(map[string]Rule, len(verrs)),
	}
	for _, fe := range verrs {
		field := trimRoot(fe.Namespace())
		if _, seen := out.Rules[field]; seen {
			continue
		}
		rule := ruleOf(fe)
		out.Rules[field] = rule
		out.Fields[field] = rule.Message()
	}
	return out
}

// trimRoot drops the struct name so "SubmitInput.translations[0].title"
// becomes "translations[0].title".
func trimRoot(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func ruleOf(fe validator.FieldError) Rule {
	switch tag := fe.Tag(); tag {
	case "required", "email", "latitude", "longitude", "slug":
		return Rule{Tag: tag}
	case "max", "min", "len", "oneof":
		return Rule{Tag: tag, Param: fe.Param()}
	case "gt", "gte":
		return Rule{Tag: "gt", Param: fe.Param()}
	default:
		return Rule{Tag: "invalid"}
	}
}
