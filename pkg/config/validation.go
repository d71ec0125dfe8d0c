package config

import (
	"reflect"

	sserr "github.com/StricklySoft/stricklysoft-fstorage/pkg/errors"
)

// Validator is implemented by configuration structs with rules beyond
// `required`. Non-*sserr.Error results are wrapped as VAL_001.
type Validator interface {
	Validate() error
}

// validate walks the struct depth-first. Required tags and nested Validators
// are checked before the enclosing struct's own Validate runs.
func validate(rv reflect.Value, path string) error {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field, sf := rv.Field(i), rt.Field(i)
		if !field.CanSet() {
			continue
		}

		fieldPath := sf.Name
		if path != "" {
			fieldPath = path + "." + sf.Name
		}

		if isNested(field, sf) {
			if err := validate(field, fieldPath); err != nil {
				return err
			}
			continue
		}

		if sf.Tag.Get("required") == "true" && field.IsZero() {
			return sserr.Newf(sserr.CodeValidationRequired,
				"config: required field %q is empty", fieldPath)
		}
	}

	if !rv.CanAddr() {
		return nil
	}
	v, ok := rv.Addr().Interface().(Validator)
	if !ok {
		return nil
	}
	if err := v.Validate(); err != nil {
		if _, isSvcErr := sserr.AsError(err); isSvcErr {
			return err
		}
		return sserr.Wrap(err, sserr.CodeValidation, "config: custom validation failed")
	}
	return nil
}
