package validation

import (
	"encoding/hex"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Validator checks `validate` struct tags on API request bodies.
//
// Supported rules: required, min=N, max=N, len=N, hex. Lengths apply to
// strings, values to integers.
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
			return fmt.Errorf("%s: %w", fieldName(fieldType), err)
		}
	}

	return nil
}

// validateField validates a single field
func (v *Validator) validateField(field reflect.Value, tag string) error {
	for _, rule := range strings.Split(tag, ",") {
		name, arg, _ := strings.Cut(rule, "=")

		switch name {
		case "required":
			if field.IsZero() {
				return fmt.Errorf("field is required")
			}

		case "min", "max", "len":
			n, err := strconv.Atoi(arg)
			if err != nil {
				return fmt.Errorf("bad %s rule %q", name, arg)
			}
			if err := checkBound(field, name, n); err != nil {
				return err
			}

		case "hex":
			if field.Kind() != reflect.String {
				continue
			}
			if _, err := hex.DecodeString(field.String()); err != nil {
				return fmt.Errorf("must be hex")
			}

		default:
			return fmt.Errorf("unknown rule %q", name)
		}
	}

	return nil
}

func checkBound(field reflect.Value, rule string, n int) error {
	var got int64
	switch field.Kind() {
	case reflect.String:
		got = int64(len(field.String()))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		got = field.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		got = int64(field.Uint())
	default:
		return nil
	}

	switch {
	case rule == "min" && got < int64(n):
		return fmt.Errorf("minimum is %d", n)
	case rule == "max" && got > int64(n):
		return fmt.Errorf("maximum is %d", n)
	case rule == "len" && got != int64(n):
		return fmt.Errorf("length must be %d", n)
	}
	return nil
}

func fieldName(f reflect.StructField) string {
	if tag := f.Tag.Get("json"); tag != "" {
		if name, _, _ := strings.Cut(tag, ","); name != "" && name != "-" {
			return name
		}
	}
	return f.Name
}
