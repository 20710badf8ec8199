package validator

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// Validator checks one property of a struct value.
type Validator interface {
	Validate(data interface{}) error
}

// RangeValidator checks that a numeric field lies within [Min, Max].
type RangeValidator struct {
	Field string
	Min   float64
	Max   float64
}

// Validate implements Validator.
func (rv *RangeValidator) Validate(data interface{}) error {
	field, err := lookupField(data, rv.Field)
	if err != nil {
		return err
	}

	var value float64
	switch field.Kind() {
	case reflect.Float32, reflect.Float64:
		value = field.Float()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		value = float64(field.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		value = float64(field.Uint())
	default:
		return fmt.Errorf("field %s is not numeric", rv.Field)
	}

	if value < rv.Min || value > rv.Max {
		return fmt.Errorf("field %s value %v is outside [%v, %v]", rv.Field, value, rv.Min, rv.Max)
	}

	return nil
}

// RequiredValidator checks that a string field is not blank.
type RequiredValidator struct {
	Field string
}

// Validate implements Validator.
func (rv *RequiredValidator) Validate(data interface{}) error {
	field, err := lookupField(data, rv.Field)
	if err != nil {
		return err
	}
	if field.Kind() != reflect.String {
		return fmt.Errorf("field %s is not a string", rv.Field)
	}
	if strings.TrimSpace(field.String()) == "" {
		return fmt.Errorf("field %s is required", rv.Field)
	}
	return nil
}

// ValidateAll runs every validator and joins the failures.
func ValidateAll(data interface{}, validators ...Validator) error {
	var errs []error
	for _, v := range validators {
		if err := v.Validate(data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func lookupField(data interface{}, name string) (reflect.Value, error) {
	v := reflect.ValueOf(data)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return reflect.Value{}, fmt.Errorf("data must be a struct, got %s", v.Kind())
	}

	field := v.FieldByName(name)
	if !field.IsValid() {
		return reflect.Value{}, fmt.Errorf("field %s does not exist", name)
	}
	return field, nil
}
