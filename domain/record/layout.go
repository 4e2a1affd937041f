package record

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/spf13/cast"
)

type field struct {
	column string
	index  []int
	elem   reflect.Type
}

// layout is the column view of a record type.
type layout struct {
	fields   []field
	byColumn map[string]int
}

var layouts sync.Map // reflect.Type -> *layout

func layoutOf(t reflect.Type) (*layout, error) {
	if l, ok := layouts.Load(t); ok {
		return l.(*layout), nil
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("record: %s is not a struct", t)
	}

	l := &layout{byColumn: make(map[string]int)}
	for _, sf := range reflect.VisibleFields(t) {
		column := sf.Tag.Get("db")
		if column == "" || column == "-" || !sf.IsExported() {
			continue
		}
		if sf.Type.Kind() != reflect.Pointer {
			return nil, fmt.Errorf("record: %s.%s must be a pointer", t.Name(), sf.Name)
		}
		if _, dup := l.byColumn[column]; dup {
			return nil, fmt.Errorf("record: %s declares column %q twice", t.Name(), column)
		}
		l.byColumn[column] = len(l.fields)
		l.fields = append(l.fields, field{column: column, index: sf.Index, elem: sf.Type.Elem()})
	}

	actual, _ := layouts.LoadOrStore(t, l)
	return actual.(*layout), nil
}

func structOf(rec any) (reflect.Value, *layout, error) {
	v := reflect.ValueOf(rec)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return reflect.Value{}, nil, fmt.Errorf("record: need a non-nil struct pointer, got %T", rec)
	}
	v = v.Elem()
	l, err := layoutOf(v.Type())
	if err != nil {
		return reflect.Value{}, nil, err
	}
	return v, l, nil
}

// Columns returns the columns declared by rec, in field order.
func Columns(rec any) ([]string, error) {
	_, l, err := structOf(rec)
	if err != nil {
		return nil, err
	}
	cols := make([]string, len(l.fields))
	for i, f := range l.fields {
		cols[i] = f.column
	}
	return cols, nil
}

// Values returns the set fields of rec keyed by column.
func Values(rec any) (map[string]any, error) {
	v, l, err := structOf(rec)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(l.fields))
	for _, f := range l.fields {
		fv := v.FieldByIndex(f.index)
		if fv.IsNil() {
			continue
		}
		out[f.column] = fv.Elem().Interface()
	}
	return out, nil
}

// SetColumns returns the set columns of rec in field order.
func SetColumns(rec any) ([]string, error) {
	values, err := Values(rec)
	if err != nil {
		return nil, err
	}
	cols := make([]string, 0, len(values))
	for c := range values {
		cols = append(cols, c)
	}
	all, _ := Columns(rec)
	order := make(map[string]int, len(all))
	for i, c := range all {
		order[c] = i
	}
	sort.Slice(cols, func(i, j int) bool { return order[cols[i]] < order[cols[j]] })
	return cols, nil
}

// Get returns the value of column. ok is false when the field is unset.
func Get(rec any, column string) (value any, ok bool, err error) {
	v, l, err := structOf(rec)
	if err != nil {
		return nil, false, err
	}
	i, known := l.byColumn[column]
	if !known {
		return nil, false, fmt.Errorf("%w %q", ErrUnknownField, column)
	}
	fv := v.FieldByIndex(l.fields[i].index)
	if fv.IsNil() {
		return nil, false, nil
	}
	return fv.Elem().Interface(), true, nil
}

// Set assigns value to column, converting it to the field's type. A nil value
// unsets the field.
func Set(rec any, column string, value any) error {
	v, l, err := structOf(rec)
	if err != nil {
		return err
	}
	i, known := l.byColumn[column]
	if !known {
		return fmt.Errorf("%w %q", ErrUnknownField, column)
	}
	return assign(v.FieldByIndex(l.fields[i].index), l.fields[i].elem, value)
}

// SetFrom assigns every known column in values. Unknown keys are ignored.
func SetFrom(rec any, values map[string]any) error {
	v, l, err := structOf(rec)
	if err != nil {
		return err
	}
	for column, value := range values {
		i, known := l.byColumn[column]
		if !known {
			continue
		}
		if err := assign(v.FieldByIndex(l.fields[i].index), l.fields[i].elem, value); err != nil {
			return fmt.Errorf("column %s: %w", column, err)
		}
	}
	return nil
}

var timeType = reflect.TypeOf(time.Time{})

func assign(dst reflect.Value, elem reflect.Type, value any) error {
	if value == nil {
		dst.Set(reflect.Zero(dst.Type()))
		return nil
	}
	if b, ok := value.([]byte); ok {
		value = string(b)
	}

	var (
		converted any
		err       error
	)
	switch {
	case elem == timeType:
		converted, err = cast.ToTimeE(value)
	case elem.Kind() == reflect.String:
		converted, err = cast.ToStringE(value)
	case elem.Kind() == reflect.Bool:
		converted, err = cast.ToBoolE(value)
	case elem.Kind() >= reflect.Int && elem.Kind() <= reflect.Int64:
		converted, err = cast.ToInt64E(value)
	case elem.Kind() >= reflect.Uint && elem.Kind() <= reflect.Uint64:
		converted, err = cast.ToUint64E(value)
	case elem.Kind() == reflect.Float32 || elem.Kind() == reflect.Float64:
		converted, err = cast.ToFloat64E(value)
	default:
		rv := reflect.ValueOf(value)
		if !rv.Type().AssignableTo(elem) {
			return fmt.Errorf("cannot assign %T to %s", value, elem)
		}
		converted = value
	}
	if err != nil {
		return err
	}

	p := reflect.New(elem)
	p.Elem().Set(reflect.ValueOf(converted).Convert(elem))
	dst.Set(p)
	return nil
}

// New allocates a record addressed by key. key is nil for a new row, a scalar
// for a single-column key, or a map of column values for a compound key.
func New[T any](s Schema, key any) (*T, error) {
	rec := new(T)
	if key == nil {
		return rec, nil
	}

	if m, ok := key.(map[string]any); ok {
		if !s.Compound() {
			return nil, fmt.Errorf("%w: %s has a single-column key, got a map", ErrKeyMismatch, s.TableName())
		}
		for _, k := range s.PrimaryKey {
			if v, ok := m[k]; ok {
				if err := Set(rec, k, v); err != nil {
					return nil, err
				}
			}
		}
		return rec, nil
	}

	if s.Compound() {
		return nil, fmt.Errorf("%w: %s has a compound key, got a single value", ErrKeyMismatch, s.TableName())
	}
	if len(s.PrimaryKey) == 0 {
		return nil, fmt.Errorf("%w: %s has no primary key", ErrKeyMismatch, s.TableName())
	}
	if err := Set(rec, s.PrimaryKey[0], key); err != nil {
		return nil, err
	}
	return rec, nil
}
