package validation

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	phonePattern = regexp.MustCompile(`^\+?[\d\s\-\(\)]+$`)
	nonDigits    = regexp.MustCompile(`\D`)
)

// asString renders a field value the way rule checks compare it. Nil never
// reaches this function; callers filter it first.
func asString(value interface{}) string {
	if s, ok := value.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", value)
}

// asFloat coerces numeric and numeric-string values to float64.
func asFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// NotNull fails when the field is absent or nil.
func NotNull(field string) Rule {
	return Rule{
		Field:    field,
		Name:     "not_null",
		Severity: SeverityError,
		Message:  fmt.Sprintf("%s must not be null", field),
		Check: func(value interface{}) bool {
			return value != nil
		},
	}
}

// NotEmptyString fails when the field is nil or blank after trimming.
func NotEmptyString(field string) Rule {
	return Rule{
		Field:    field,
		Name:     "not_empty_string",
		Severity: SeverityError,
		Message:  fmt.Sprintf("%s must not be empty", field),
		Check: func(value interface{}) bool {
			return value != nil && strings.TrimSpace(asString(value)) != ""
		},
	}
}

// EmailFormat checks the field against a simple email address shape.
func EmailFormat(field string) Rule {
	return Rule{
		Field:    field,
		Name:     "email_format",
		Severity: SeverityError,
		Message:  fmt.Sprintf("%s must be a valid email address", field),
		Check: func(value interface{}) bool {
			if value == nil {
				return false
			}
			return emailPattern.MatchString(asString(value))
		},
	}
}

// PhoneFormat accepts digits with optional +, spaces, dashes and parentheses,
// requiring at least ten digits overall.
func PhoneFormat(field string) Rule {
	return Rule{
		Field:    field,
		Name:     "phone_format",
		Severity: SeverityError,
		Message:  fmt.Sprintf("%s must be a valid phone number", field),
		Check: func(value interface{}) bool {
			if value == nil {
				return false
			}
			s := asString(value)
			if !phonePattern.MatchString(s) {
				return false
			}
			return len(nonDigits.ReplaceAllString(s, "")) >= 10
		},
	}
}

// DateFormat checks that the field parses with the given time layout.
// An empty layout defaults to "2006-01-02".
func DateFormat(field, layout string) Rule {
	if layout == "" {
		layout = "2006-01-02"
	}
	return Rule{
		Field:    field,
		Name:     "date_format",
		Severity: SeverityError,
		Message:  fmt.Sprintf("%s must match date layout %s", field, layout),
		Check: func(value interface{}) bool {
			if value == nil {
				return false
			}
			_, err := time.Parse(layout, asString(value))
			return err == nil
		},
	}
}

// NumericRange checks that the field is numeric and within [min, max].
// Use math.Inf(-1) or math.Inf(1) for an open bound.
func NumericRange(field string, min, max float64) Rule {
	return Rule{
		Field:    field,
		Name:     "numeric_range",
		Severity: SeverityError,
		Message:  fmt.Sprintf("%s must be a number within [%v, %v]", field, min, max),
		Check: func(value interface{}) bool {
			if value == nil {
				return false
			}
			f, ok := asFloat(value)
			if !ok || math.IsNaN(f) {
				return false
			}
			return f >= min && f <= max
		},
	}
}

// StringLength checks that the field's string form is between minLen and
// maxLen characters. A maxLen of zero or less means no upper bound.
func StringLength(field string, minLen, maxLen int) Rule {
	return Rule{
		Field:    field,
		Name:     "string_length",
		Severity: SeverityError,
		Message:  fmt.Sprintf("%s length must be between %d and %d", field, minLen, maxLen),
		Check: func(value interface{}) bool {
			if value == nil {
				return false
			}
			n := len(asString(value))
			if n < minLen {
				return false
			}
			if maxLen > 0 && n > maxLen {
				return false
			}
			return true
		},
	}
}

// RegexMatch checks the field against the given pattern. The pattern must be
// a valid regular expression; invalid patterns panic at rule construction.
func RegexMatch(field, pattern string) Rule {
	re := regexp.MustCompile(pattern)
	return Rule{
		Field:    field,
		Name:     "regex_match",
		Severity: SeverityError,
		Message:  fmt.Sprintf("%s must match pattern %s", field, pattern),
		Check: func(value interface{}) bool {
			if value == nil {
				return false
			}
			return re.MatchString(asString(value))
		},
	}
}

// Choices checks that the field value is one of the allowed values.
func Choices(field string, allowed ...interface{}) Rule {
	return Rule{
		Field:    field,
		Name:     "choices",
		Severity: SeverityError,
		Message:  fmt.Sprintf("%s must be one of the allowed values", field),
		Check: func(value interface{}) bool {
			for _, a := range allowed {
				if value == a {
					return true
				}
			}
			return false
		},
	}
}
