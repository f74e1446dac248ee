package validation

import (
	"encoding/hex"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Validator validates structs via `validate` tags
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate validates a struct
func (v *Validator) Validate(s interface{}) error {
	val := reflect.ValueOf(s)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}

	if val.Kind() != reflect.Struct {
		return fmt.Errorf("validate expects a struct")
	}

	typ := val.Type()
	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		tag := fieldType.Tag.Get("validate")
		if tag == "" {
			continue
		}
		if err := v.validateField(field, tag); err != nil {
			return fmt.Errorf("%s: %w", fieldType.Name, err)
		}
	}

	return nil
}

// validateField validates a single field. Supported rules: required,
// email, min=N, max=N (string length), hex=N (hex string of N bytes).
func (v *Validator) validateField(field reflect.Value, tag string) error {
	for _, rule := range strings.Split(tag, ",") {
		parts := strings.SplitN(rule, "=", 2)
		ruleName := parts[0]
		arg := ""
		if len(parts) == 2 {
			arg = parts[1]
		}

		switch ruleName {
		case "required":
			if field.IsZero() {
				return fmt.Errorf("field is required")
			}

		case "email":
			if field.Kind() == reflect.String {
				email := field.String()
				at := strings.Index(email, "@")
				if at <= 0 || at == len(email)-1 {
					return fmt.Errorf("invalid email format")
				}
			}

		case "min":
			n, err := strconv.Atoi(arg)
			if err != nil {
				continue
			}
			if field.Kind() == reflect.String && len(field.String()) < n {
				return fmt.Errorf("minimum length is %d", n)
			}

		case "max":
			n, err := strconv.Atoi(arg)
			if err != nil {
				continue
			}
			if field.Kind() == reflect.String && len(field.String()) > n {
				return fmt.Errorf("maximum length is %d", n)
			}

		case "hex":
			n, err := strconv.Atoi(arg)
			if err != nil || field.Kind() != reflect.String {
				continue
			}
			s := field.String()
			if s == "" {
				continue
			}
			decoded, err := hex.DecodeString(s)
			if err != nil {
				return fmt.Errorf("must be a hex string")
			}
			if len(decoded) != n {
				return fmt.Errorf("must be %d hex bytes", n)
			}
		}
	}

	return nil
}
