package graphorm

import (
	"database/sql"
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/google/uuid"
)

var (
	scannerType = reflect.TypeOf((*sql.Scanner)(nil)).Elem()
	uuidType    = reflect.TypeOf(uuid.UUID{})
)

// assignValue stores a driver value into a struct field, converting the
// representations drivers commonly return ([]byte text, int64 booleans,
// string timestamps).
func assignValue(field reflect.Value, src any) error {
	if field.CanAddr() && reflect.PointerTo(field.Type()).Implements(scannerType) {
		return field.Addr().Interface().(sql.Scanner).Scan(src)
	}

	if src == nil {
		field.SetZero()
		return nil
	}

	if field.Kind() == reflect.Ptr {
		elem := reflect.New(field.Type().Elem())
		if err := assignValue(elem.Elem(), src); err != nil {
			return err
		}
		field.Set(elem)
		return nil
	}

	if b, ok := src.([]byte); ok {
		if field.Kind() == reflect.Slice && field.Type().Elem().Kind() == reflect.Uint8 {
			field.SetBytes(append([]byte(nil), b...))
			return nil
		}
		src = string(b)
	}

	sv := reflect.ValueOf(src)
	switch field.Kind() {
	case reflect.String:
		if sv.Kind() == reflect.String {
			field.SetString(sv.String())
			return nil
		}
		field.SetString(fmt.Sprint(src))
		return nil

	case reflect.Bool:
		switch v := src.(type) {
		case bool:
			field.SetBool(v)
			return nil
		case int64:
			field.SetBool(v != 0)
			return nil
		case string:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return err
			}
			field.SetBool(b)
			return nil
		}

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if s, ok := src.(string); ok {
			n, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(n)
			return nil
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if s, ok := src.(string); ok {
			n, err := strconv.ParseUint(s, 10, 64)
			if err != nil {
				return err
			}
			field.SetUint(n)
			return nil
		}

	case reflect.Float32, reflect.Float64:
		if s, ok := src.(string); ok {
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return err
			}
			field.SetFloat(f)
			return nil
		}

	case reflect.Struct:
		if field.Type() == reflect.TypeOf(time.Time{}) {
			if s, ok := src.(string); ok {
				t, err := parseTime(s)
				if err != nil {
					return err
				}
				field.Set(reflect.ValueOf(t))
				return nil
			}
		}
	}

	if sv.Type().ConvertibleTo(field.Type()) {
		field.Set(sv.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("graphorm: cannot assign %T to field of type %s", src, field.Type())
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("graphorm: cannot parse time %q", s)
}

// isEmptyKey reports whether a primary key value is unset.
func isEmptyKey(v reflect.Value) bool {
	if !v.IsValid() {
		return true
	}
	if v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		return v.IsNil()
	}
	return v.IsZero()
}

// primaryKeyValue returns the primary key of an entity struct value.
func primaryKeyValue(meta *EntityMetadata, v reflect.Value) reflect.Value {
	return v.FieldByIndex(meta.PrimaryKey.Index)
}

// relationValue returns the current value of a relation field: the entity
// pointer or slice for eager relations, the loaded value for lazy ones.
// ok is false for a lazy relation that has not been loaded.
func relationValue(v reflect.Value, rel *RelationDescriptor) (reflect.Value, bool) {
	field := v.FieldByIndex(rel.Index)
	if !rel.Lazy() {
		return field, true
	}
	lv := lazyField(field)
	if !lv.isLoaded() {
		return reflect.Value{}, false
	}
	return lv.current(), true
}

// setRelation stores value into the relation field of v.
func setRelation(v reflect.Value, rel *RelationDescriptor, value reflect.Value) {
	field := v.FieldByIndex(rel.Index)
	if rel.Lazy() {
		lazyField(field).assign(value)
		return
	}
	if value.IsValid() {
		field.Set(value)
	} else {
		field.SetZero()
	}
}

// foreignKeyValue resolves an inverse side relation to the related entity's
// primary key. known is false when the relation is a lazy one never loaded.
func foreignKeyValue(reg *Registry, meta *EntityMetadata, v reflect.Value, rel *RelationDescriptor) (value any, known bool, err error) {
	related, ok := relationValue(v, rel)
	if !ok {
		return nil, false, nil
	}
	if related.IsNil() {
		return nil, true, nil
	}

	target, err := reg.Resolve(rel.Target)
	if err != nil {
		return nil, true, err
	}
	pk := primaryKeyValue(target, related.Elem())
	if isEmptyKey(pk) {
		return nil, true, &ValueResolutionError{Entity: meta.Name(), Field: rel.Field, Target: rel.Target.Name()}
	}
	return pk.Interface(), true, nil
}

// compareIDs compares two ID values, handling type conversions (int vs int64, etc.)
func compareIDs(a, b any) bool {
	// Fast path: direct equality check (handles same type comparisons)
	if a == b {
		return true
	}

	if a == nil || b == nil {
		return false
	}

	aVal := reflect.ValueOf(a)
	bVal := reflect.ValueOf(b)

	switch {
	case isInteger(aVal.Kind()) && isInteger(bVal.Kind()):
		return aVal.Int() == bVal.Int()
	case isUint(aVal.Kind()) && isUint(bVal.Kind()):
		return aVal.Uint() == bVal.Uint()
	case isInteger(aVal.Kind()) && isUint(bVal.Kind()):
		return aVal.Int() >= 0 && uint64(aVal.Int()) == bVal.Uint()
	case isUint(aVal.Kind()) && isInteger(bVal.Kind()):
		return bVal.Int() >= 0 && aVal.Uint() == uint64(bVal.Int())
	}

	// Fallback to string comparison
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func isInteger(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Int64
}

func isUint(k reflect.Kind) bool {
	return k >= reflect.Uint && k <= reflect.Uint64
}
