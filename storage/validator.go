package storage

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// ValidatorKind selects one of the built-in answer validators. Validators
// are pure predicates over the submitted answer string; they are data, not
// executable code.
type ValidatorKind string

const (
	// ValidatorRegex accepts answers matching Pattern.
	ValidatorRegex ValidatorKind = "regex"

	// ValidatorLength accepts answers whose length is within [MinLength,
	// MaxLength]. A zero MaxLength means unbounded.
	ValidatorLength ValidatorKind = "length"

	// ValidatorEnum accepts answers equal to one of Values.
	ValidatorEnum ValidatorKind = "enum"

	// ValidatorBoolean accepts "true" or "false".
	ValidatorBoolean ValidatorKind = "boolean"
)

// Validator is an admin-configured check applied to a user's scope answer
// before consent is recorded.
type Validator struct {
	Kind      ValidatorKind
	Pattern   string   // regex kind
	MinLength int      // length kind
	MaxLength int      // length kind, 0 = unbounded
	Values    []string // enum kind

	// ErrorMessage is shown to the user when the answer is rejected.
	ErrorMessage string
}

// Check verifies the validator configuration itself. It is called when a
// scope is defined so that a broken validator is rejected up front instead
// of failing every consent attempt.
func (v *Validator) Check() error {
	switch v.Kind {
	case ValidatorRegex:
		if _, err := regexp.Compile(v.Pattern); err != nil {
			return fmt.Errorf("%w: invalid pattern: %v", ErrValidation, err)
		}
	case ValidatorLength:
		if v.MinLength < 0 || (v.MaxLength != 0 && v.MaxLength < v.MinLength) {
			return fmt.Errorf("%w: invalid length bounds", ErrValidation)
		}
	case ValidatorEnum:
		if len(v.Values) == 0 {
			return fmt.Errorf("%w: enum validator needs at least one value", ErrValidation)
		}
	case ValidatorBoolean:
	default:
		return fmt.Errorf("%w: unknown validator kind %q", ErrValidation, v.Kind)
	}
	return nil
}

// Validate runs the validator against an answer. A nil validator accepts any
// non-empty answer. Any panic inside the predicate is recovered and treated
// as a validation failure, never a system fault.
func (v *Validator) Validate(answer string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: validator panicked: %v", ErrValidation, r)
		}
	}()

	if v == nil {
		if strings.TrimSpace(answer) == "" {
			return fmt.Errorf("%w: answer must not be empty", ErrValidation)
		}
		return nil
	}

	ok := false
	switch v.Kind {
	case ValidatorRegex:
		re, compileErr := regexp.Compile(v.Pattern)
		if compileErr != nil {
			return fmt.Errorf("%w: %s", ErrValidation, v.message())
		}
		ok = re.MatchString(answer)
	case ValidatorLength:
		n := len(answer)
		ok = n >= v.MinLength && (v.MaxLength == 0 || n <= v.MaxLength)
	case ValidatorEnum:
		ok = slices.Contains(v.Values, answer)
	case ValidatorBoolean:
		ok = answer == "true" || answer == "false"
	}

	if !ok {
		return fmt.Errorf("%w: %s", ErrValidation, v.message())
	}
	return nil
}

func (v *Validator) message() string {
	if v.ErrorMessage != "" {
		return v.ErrorMessage
	}
	return "answer is not valid for this scope"
}
