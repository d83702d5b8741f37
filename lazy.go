package graphorm

import (
	"context"
	"reflect"
)

// Lazy holds a relation that is loaded on first access. T is either a
// pointer to an entity (one-to-one) or a slice of entity pointers
// (one-to-many).
//
//	type Author struct {
//		graphorm.Tracker
//		ID    int64                      `graphorm:"primary;autoIncrement"`
//		Books graphorm.Lazy[[]*Book]     `graphorm:"oneToMany:author_id;lazy"`
//	}
//
// Entities returned by a Session have their lazy fields bound to that
// session. A Lazy on a caller-constructed entity is empty until Set.
type Lazy[T any] struct {
	value  T
	loaded bool
	loader func(ctx context.Context) error
}

// Get returns the relation value, running the load query on first access.
func (l *Lazy[T]) Get(ctx context.Context) (T, error) {
	if !l.loaded && l.loader != nil {
		if err := l.loader(ctx); err != nil {
			var zero T
			return zero, err
		}
	}
	return l.value, nil
}

// Set replaces the value and marks it loaded; a pending load is discarded.
func (l *Lazy[T]) Set(v T) {
	l.value = v
	l.loaded = true
	l.loader = nil
}

// Loaded reports whether the value was loaded or set.
func (l *Lazy[T]) Loaded() bool {
	return l.loaded
}

// Peek returns the value without loading it.
func (l *Lazy[T]) Peek() (T, bool) {
	return l.value, l.loaded
}

type lazyValue interface {
	valueType() reflect.Type
	bind(loader func(ctx context.Context) error)
	load(ctx context.Context) error
	isLoaded() bool
	current() reflect.Value
	assign(v reflect.Value)
}

var lazyValueType = reflect.TypeOf((*lazyValue)(nil)).Elem()

func (l *Lazy[T]) valueType() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

func (l *Lazy[T]) bind(loader func(ctx context.Context) error) {
	l.loaded = false
	l.loader = loader
}

func (l *Lazy[T]) load(ctx context.Context) error {
	_, err := l.Get(ctx)
	return err
}

func (l *Lazy[T]) isLoaded() bool {
	return l.loaded
}

func (l *Lazy[T]) current() reflect.Value {
	return reflect.ValueOf(&l.value).Elem()
}

func (l *Lazy[T]) assign(v reflect.Value) {
	target := reflect.ValueOf(&l.value).Elem()
	if v.IsValid() {
		target.Set(v)
	} else {
		target.SetZero()
	}
	l.loaded = true
	l.loader = nil
}

func isLazyType(t reflect.Type) bool {
	return t.Kind() == reflect.Struct && reflect.PointerTo(t).Implements(lazyValueType)
}

// lazyField returns the Lazy stored in field, which must be addressable.
func lazyField(field reflect.Value) lazyValue {
	return field.Addr().Interface().(lazyValue)
}
