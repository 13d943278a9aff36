package helpers

import "reflect"

// Merge copies every non-zero field of source into the same-named field of target.
// Both must be pointers to structs; empty slices and maps count as zero.
//
// Example:
//
//	cfg := openai.DefaultConfig()
//	helpers.Merge(cfg, &openai.Config{Temperature: helpers.PtrOf(float32(0.1))})
func Merge(target, source any) {
	if source == nil {
		return
	}

	targetVal := reflect.ValueOf(target)
	sourceVal := reflect.ValueOf(source)
	if targetVal.Kind() == reflect.Ptr {
		targetVal = targetVal.Elem()
	}
	if sourceVal.Kind() == reflect.Ptr {
		if sourceVal.IsNil() {
			return
		}
		sourceVal = sourceVal.Elem()
	}
	if targetVal.Kind() != reflect.Struct || sourceVal.Kind() != reflect.Struct {
		return
	}

	for i := 0; i < sourceVal.NumField(); i++ {
		sourceField := sourceVal.Field(i)
		targetField := targetVal.FieldByName(sourceVal.Type().Field(i).Name)
		if !targetField.IsValid() || !targetField.CanSet() {
			continue
		}

		switch sourceField.Kind() {
		case reflect.Slice, reflect.Map:
			if !sourceField.IsNil() && sourceField.Len() > 0 {
				targetField.Set(sourceField)
			}
		default:
			if !sourceField.IsZero() {
				targetField.Set(sourceField)
			}
		}
	}
}
