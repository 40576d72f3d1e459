package screen

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Forms validates submitted form structs and phrases errors for people.
type Forms struct {
	validate *validator.Validate
}

// NewForms configures a validator that reports fields by their form name.
func NewForms() *Forms {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("form"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return &Forms{validate: v}
}

// Check returns field errors keyed by form name, or nil when form is valid.
func (f *Forms) Check(form any) map[string]string {
	err := f.validate.Struct(form)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return map[string]string{"general": err.Error()}
	}
	out := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		out[fe.Field()] = describe(fe)
	}
	return out
}

func describe(fe validator.FieldError) string {
	label := humanize(fe.Field())
	switch fe.Tag() {
	case "required":
		return label + " is required"
	case "email":
		return "Enter a valid email address"
	case "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at least %s characters", label, fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s", label, fe.Param())
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at most %s characters", label, fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s", label, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", label, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be %s or more", label, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be %s or less", label, fe.Param())
	case "ltefield":
		return fmt.Sprintf("%s cannot exceed %s", label, humanize(fe.Param()))
	case "oneof":
		return fmt.Sprintf("%s must be one of %s", label, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "numeric", "number":
		return label + " must be a number"
	case "datetime":
		return label + " must be a date (YYYY-MM-DD)"
	case "nefield":
		return fmt.Sprintf("%s must differ from %s", label, humanize(fe.Param()))
	case "eqfield":
		return fmt.Sprintf("%s must match %s", label, humanize(fe.Param()))
	}
	return label + " is invalid"
}

func humanize(field string) string {
	var b strings.Builder
	for i, r := range field {
		if r == '_' {
			b.WriteByte(' ')
			continue
		}
		if i > 0 && r >= 'A' && r <= 'Z' {
			b.WriteByte(' ')
			r += 'a' - 'A'
		}
		if i == 0 && r >= 'a' && r <= 'z' {
			r -= 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// FirstError picks the message to flash when a form cannot be re-rendered.
func FirstError(errs map[string]string) string {
	if msg, ok := errs["general"]; ok {
		return msg
	}
	keys := make([]string, 0, len(errs))
	for k := range errs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) == 0 {
		return ""
	}
	return errs[keys[0]]
}

// IntParam reads a positive integer query parameter with a default.
func IntParam(q url.Values, name string, def int) int {
	n, err := strconv.Atoi(q.Get(name))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// FloatValue parses a decimal form value; blanks and junk read as zero.
func FloatValue(raw string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0
	}
	return f
}

// Pagination is the page block shared by list screens.
type Pagination struct {
	Page  int `json:"page"`
	Pages int `json:"pages"`
	Total int `json:"total"`
}

// HasPrev reports whether a previous page exists.
func (p Pagination) HasPrev() bool { return p.Page > 1 }

// HasNext reports whether a next page exists.
func (p Pagination) HasNext() bool { return p.Page < p.Pages }

// Prev is the previous page number.
func (p Pagination) Prev() int { return p.Page - 1 }

// Next is the next page number.
func (p Pagination) Next() int { return p.Page + 1 }

// PageBase is the link prefix pagination appends "page=N" to.
func PageBase(path string, filter url.Values) string {
	if len(filter) == 0 {
		return path + "?"
	}
	return path + "?" + filter.Encode() + "&"
}
