// Package validation checks resource envelopes before they reach the index.
//
// Attribute variants and extension payloads carry go-playground/validator
// tags; this package runs them, adds the envelope-level rules (id shape,
// kind, extension ownership) and reports the failures field by field using
// the JSON names clients send.
//
// # Usage Example
//
//	v := validation.New()
//	result := v.ValidateResource(res)
//	if !result.Valid {
//	    for _, e := range result.Errors {
//	        fmt.Printf("%s: %s\n", e.Field, e.Message)
//	    }
//	}
package validation

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"evalgo.org/gridstore/models"
	"github.com/go-playground/validator/v10"
)

// Validator runs struct and envelope validation for resources.
type Validator struct {
	// structValidator validates Go struct constraints and tags
	structValidator *validator.Validate
}

// ValidationError represents a single validation error with field-level details.
type ValidationError struct {
	// Field is the JSON path of the field that failed validation
	Field string `json:"field"`

	// Message describes why the validation failed
	Message string `json:"message"`

	// Value is the invalid value that caused the error (optional)
	Value interface{} `json:"value,omitempty"`
}

// ValidationResult represents the complete result of a validation operation.
type ValidationResult struct {
	// Valid is true if validation passed, false otherwise
	Valid bool `json:"valid"`

	// Errors contains all validation errors found (empty if Valid is true)
	Errors []ValidationError `json:"errors,omitempty"`
}

// MaxIDLength bounds resource ids.
const MaxIDLength = 256

// New creates a Validator reporting fields by their JSON names.
func New() *Validator {
	sv := validator.New(validator.WithRequiredStructEnabled())
	sv.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{structValidator: sv}
}

// ValidateDocument parses a JSON envelope and validates it.
func (v *Validator) ValidateDocument(data []byte) *ValidationResult {
	var res models.Resource
	if err := json.Unmarshal(data, &res); err != nil {
		return &ValidationResult{
			Valid: false,
			Errors: []ValidationError{{
				Field:   "document",
				Message: fmt.Sprintf("Invalid resource: %v", err),
			}},
		}
	}
	return v.ValidateResource(&res)
}

// ValidateResource checks the envelope, its attributes and its extensions.
func (v *Validator) ValidateResource(res *models.Resource) *ValidationResult {
	var errs []ValidationError

	errs = append(errs, v.validateID(res.ID)...)

	if !res.Kind.Valid() {
		errs = append(errs, ValidationError{
			Field:   "type",
			Message: "Unknown resource type",
			Value:   res.Kind,
		})
		return &ValidationResult{Valid: false, Errors: errs}
	}

	switch {
	case res.Attributes == nil:
		errs = append(errs, ValidationError{Field: "attributes", Message: "Attributes are required"})
	case res.Attributes.Kind() != res.Kind:
		errs = append(errs, ValidationError{
			Field:   "attributes",
			Message: fmt.Sprintf("Attributes of %s given for %s", res.Attributes.Kind(), res.Kind),
		})
	default:
		errs = append(errs, v.validateStruct("attributes", res.Attributes)...)
		errs = append(errs, v.validateKindRules(res)...)
	}

	for _, name := range res.ExtensionNames() {
		ext := res.Extensions[name]
		field := "extensions." + name
		if !res.Kind.AllowsExtension(name) || ext.ExtensionName() != name {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("Extension not allowed on %s", res.Kind),
			})
			continue
		}
		errs = append(errs, v.validateStruct(field, ext)...)
	}

	return &ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// Check validates res and returns a models validation error listing every
// failing field, or nil.
func (v *Validator) Check(res *models.Resource) error {
	result := v.ValidateResource(res)
	if result.Valid {
		return nil
	}
	fields := make(map[string]string, len(result.Errors))
	for _, e := range result.Errors {
		if prev, ok := fields[e.Field]; ok {
			fields[e.Field] = prev + "; " + e.Message
			continue
		}
		fields[e.Field] = e.Message
	}
	return models.Validation(res.Kind, res.ID, fmt.Sprintf("%d invalid field(s)", len(result.Errors)), fields)
}

// CheckExtension validates a single extension payload for owner kind.
func (v *Validator) CheckExtension(kind models.Kind, id string, ext models.Extension) error {
	name := ext.ExtensionName()
	if !kind.AllowsExtension(name) {
		return models.Validation(kind, id, fmt.Sprintf("extension %s not allowed", name), nil)
	}
	errs := v.validateStruct("extensions."+name, ext)
	if len(errs) == 0 {
		return nil
	}
	fields := make(map[string]string, len(errs))
	for _, e := range errs {
		fields[e.Field] = e.Message
	}
	return models.Validation(kind, id, "invalid extension "+name, fields)
}

func (v *Validator) validateID(id string) []ValidationError {
	switch {
	case id == "":
		return []ValidationError{{Field: "id", Message: "ID is required"}}
	case len(id) > MaxIDLength:
		return []ValidationError{{Field: "id", Message: fmt.Sprintf("ID must be at most %d characters", MaxIDLength), Value: id}}
	case strings.ContainsAny(id, "/ \t\n"):
		return []ValidationError{{Field: "id", Message: "ID must not contain '/' or whitespace", Value: id}}
	}
	return nil
}

// validateKindRules holds the checks struct tags cannot express.
func (v *Validator) validateKindRules(res *models.Resource) []ValidationError {
	switch attrs := res.Attributes.(type) {
	case *models.NetworkAttributes:
		if attrs.UUID.String() != res.ID {
			return []ValidationError{{
				Field:   "id",
				Message: "Network id must equal its uuid",
				Value:   res.ID,
			}}
		}
	case *models.VoltageLevelAttributes:
		if attrs.HighVoltageLimit != 0 && attrs.HighVoltageLimit < attrs.LowVoltageLimit {
			return []ValidationError{{
				Field:   "attributes.highVoltageLimit",
				Message: "Must be greater than or equal to lowVoltageLimit",
				Value:   attrs.HighVoltageLimit,
			}}
		}
	case *models.SwitchAttributes:
		if attrs.Bus1 == "" && attrs.Bus2 == "" && attrs.Node1 == attrs.Node2 && attrs.Node1 != 0 {
			return []ValidationError{{
				Field:   "attributes.node2",
				Message: "Switch must connect two distinct nodes",
				Value:   attrs.Node2,
			}}
		}
	}
	return nil
}

func (v *Validator) validateStruct(prefix string, s interface{}) []ValidationError {
	err := v.structValidator.Struct(s)
	if err == nil {
		return nil
	}
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []ValidationError{{Field: prefix, Message: err.Error()}}
	}

	out := make([]ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, ValidationError{
			Field:   jsonPath(prefix, fe.Namespace()),
			Message: message(fe),
			Value:   fe.Value(),
		})
	}
	return out
}

// jsonPath turns "LoadAttributes.InjectionAttributes.voltageLevelId" into
// "attributes.voltageLevelId". Type names and embedded struct names are the
// only capitalized segments.
func jsonPath(prefix, namespace string) string {
	parts := strings.Split(namespace, ".")
	kept := []string{prefix}
	for _, p := range parts {
		if p == "" || unicode.IsUpper(rune(p[0])) {
			continue
		}
		kept = append(kept, p)
	}
	return strings.Join(kept, ".")
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "Is required"
	case "oneof":
		return "Must be one of: " + strings.Join(strings.Fields(fe.Param()), ", ")
	case "gt":
		return "Must be greater than " + fe.Param()
	case "gte":
		return "Must be greater than or equal to " + fe.Param()
	case "gtefield":
		return "Must be greater than or equal to " + lowerFirst(fe.Param())
	case "iso3166_1_alpha2":
		return "Must be an ISO 3166-1 alpha-2 country code"
	default:
		return fmt.Sprintf("Failed %s check", fe.Tag())
	}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
