package cap

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// FieldError names one violated rule. Field is a dotted path using CAP
// element names, e.g. "info[0].area[1].ceiling".
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e FieldError) String() string {
	return e.Field + ": " + e.Reason
}

// ValidationError carries every violation found in a document, not just the
// first.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.String()
	}
	return "invalid alert: " + strings.Join(msgs, "; ")
}

// Has reports whether field was named by any violation.
func (e *ValidationError) Has(field string) bool {
	for _, f := range e.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}

// Reason returns the first reason recorded for field.
func (e *ValidationError) Reason(field string) string {
	for _, f := range e.Fields {
		if f.Field == field {
			return f.Reason
		}
	}
	return ""
}

// AsValidationError unwraps err into a *ValidationError.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

const (
	phaseRequired = iota
	phaseEnum
	phaseFormat
	phaseCrossField
)

type enum interface {
	Valid() bool
}

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("cap"), ",", 2)[0]
			if name == "" || name == "-" {
				return f.Name
			}
			return name
		})
		_ = validate.RegisterValidation("enum", func(fl validator.FieldLevel) bool {
			e, ok := fl.Field().Interface().(enum)
			return ok && e.Valid()
		})
		_ = validate.RegisterValidation("capid", func(fl validator.FieldLevel) bool {
			return validIdentifier(fl.Field().String())
		})
	})
	return validate
}

// validIdentifier applies the CAP restriction on identifier and sender: no
// whitespace, commas, '<' or '&'.
func validIdentifier(s string) bool {
	return !strings.ContainsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || r == ',' || r == '<' || r == '&'
	})
}

// Validate checks a in order: required fields, enum membership, formats,
// then cross-field rules. It returns nil or a *ValidationError listing every
// violation.
func Validate(a *Alert) error {
	return validateAt(a, a.sent)
}

// validateAt validates a as if it were sent at sent, which supplies the
// default effective time of each info.
func validateAt(a *Alert, sent time.Time) error {
	type phased struct {
		phase int
		FieldError
	}
	var found []phased
	add := func(phase int, field, reason string) {
		found = append(found, phased{phase, FieldError{field, reason}})
	}

	if err := validatorInstance().Struct(a); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validating alert: %w", err)
		}
		for _, fe := range verrs {
			field := fieldPath(fe.Namespace())
			switch fe.Tag() {
			case "required", "min":
				add(phaseRequired, field, "is required")
			case "enum":
				add(phaseEnum, field, fmt.Sprintf("unknown value %q", fmt.Sprint(fe.Value())))
			case "capid":
				add(phaseFormat, field, "must not contain whitespace, ',', '<' or '&'")
			case "url":
				add(phaseFormat, field, "must be a valid URL")
			default:
				add(phaseFormat, field, "failed "+fe.Tag())
			}
		}
	}

	for i, ref := range a.References {
		if ref.Sender == "" || ref.Identifier == "" || ref.Sent.IsZero() {
			add(phaseFormat, fmt.Sprintf("references[%d]", i), "must be a sender,identifier,sent triple")
		}
	}
	for i, addr := range a.Addresses {
		if strings.TrimSpace(addr) == "" {
			add(phaseFormat, fmt.Sprintf("addresses[%d]", i), "must not be blank")
		}
	}

	switch a.Scope {
	case ScopeRestricted:
		if strings.TrimSpace(a.Restriction) == "" {
			add(phaseCrossField, "restriction", "restriction required when scope is Restricted")
		}
	case ScopePrivate:
		if len(a.Addresses) == 0 {
			add(phaseCrossField, "addresses", "addresses required when scope is Private")
		}
	}
	if a.MsgType != "" && a.MsgType != MsgTypeAlert && a.MsgType.Valid() && len(a.References) == 0 {
		add(phaseCrossField, "references", fmt.Sprintf("references required for %s", a.MsgType))
	}

	for i, info := range a.Infos {
		effective := info.Effective
		if effective.IsZero() {
			effective = sent
		}
		if !info.Expires.IsZero() && !effective.IsZero() && !info.Expires.After(effective) {
			add(phaseCrossField, fmt.Sprintf("info[%d].expires", i), "expires must be after effective")
		}
		for j, area := range info.Areas {
			prefix := fmt.Sprintf("info[%d].area[%d]", i, j)
			if area.Ceiling == nil {
				continue
			}
			if area.Altitude == nil {
				add(phaseCrossField, prefix+".ceiling", "ceiling requires altitude")
				continue
			}
			if *area.Ceiling < *area.Altitude {
				add(phaseCrossField, prefix+".ceiling", "ceiling must not be below altitude")
			}
		}
	}

	if len(found) == 0 {
		return nil
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].phase < found[j].phase })
	ve := &ValidationError{Fields: make([]FieldError, len(found))}
	for i, f := range found {
		ve.Fields[i] = f.FieldError
	}
	return ve
}

// fieldPath turns a validator namespace ("Alert.info[0].urgency") into the
// document-relative path ("info[0].urgency").
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

// Seal validates a and, on success, assigns the send time, fills the
// language and effective defaults, and freezes identifier and sender. A
// second Seal keeps the original send time.
func Seal(a *Alert, now time.Time) error {
	if a.Sealed() && a.sealedID != "" && (a.Identifier != a.sealedID || a.Sender != a.sealedSender) {
		return &ValidationError{Fields: []FieldError{
			{Field: "identifier", Reason: "identifier and sender are immutable once sent"},
		}}
	}
	sent := a.sent
	if sent.IsZero() {
		sent = now.Truncate(time.Second)
	}
	if err := validateAt(a, sent); err != nil {
		return err
	}
	a.sent = sent
	a.sealedID, a.sealedSender = a.Identifier, a.Sender
	for i := range a.Infos {
		if a.Infos[i].Language == "" {
			a.Infos[i].Language = DefaultLanguage
		}
		if a.Infos[i].Effective.IsZero() {
			a.Infos[i].Effective = a.sent
		}
	}
	return nil
}
