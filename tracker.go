package graphorm

import (
	"reflect"
	"slices"
	"strings"
	"unicode"
)

// Tracker records the persistence state of an entity. Embed it to make an
// entity diff-capable:
//
//	type Post struct {
//		graphorm.Tracker
//		ID    int64 `graphorm:"primary;autoIncrement"`
//		Title string
//	}
//
// An entity built by the caller starts virgin. Entities hydrated by a
// Session, or persisted by one, are non-virgin and diff-capable: Update
// writes only the fields recorded by ChangeValue plus fields whose value
// differs from the last load or save.
type Tracker struct {
	persisted bool
	diff      bool
	changed   []string
	pending   map[string]struct{}
	snapshot  map[string]any
}

type trackable interface {
	entityState() *Tracker
}

var trackerType = reflect.TypeOf(Tracker{})

func (t *Tracker) entityState() *Tracker { return t }

// ChangeValue records field as modified. Unexported or "_" prefixed names
// and lazy fields that have not been loaded yet are ignored.
func (t *Tracker) ChangeValue(field string) {
	t.diff = true
	if field == "" || strings.HasPrefix(field, "_") || !unicode.IsUpper([]rune(field)[0]) {
		return
	}
	if t.IsPendingLazy(field) {
		return
	}
	if !slices.Contains(t.changed, field) {
		t.changed = append(t.changed, field)
	}
}

// SetAsNotVirgin clears the changed set; called after hydration and after
// every successful insert or update.
func (t *Tracker) SetAsNotVirgin() {
	t.persisted = true
	t.changed = nil
}

// IsVirgin reports whether the entity has never been loaded or persisted.
func (t *Tracker) IsVirgin() bool {
	return !t.persisted
}

// CanUseDiff reports whether Update may narrow to changed fields.
func (t *Tracker) CanUseDiff() bool {
	return t.diff
}

// ChangedFields returns the recorded field names in recording order.
func (t *Tracker) ChangedFields() []string {
	return slices.Clone(t.changed)
}

// IsPendingLazy reports whether field is a lazy relation not loaded yet.
func (t *Tracker) IsPendingLazy(field string) bool {
	_, ok := t.pending[field]
	return ok
}

func (t *Tracker) markPending(field string) {
	if t.pending == nil {
		t.pending = make(map[string]struct{})
	}
	t.pending[field] = struct{}{}
}

func (t *Tracker) resolvePending(field string) {
	delete(t.pending, field)
	t.ChangeValue(field)
}

// settle marks the entity as loaded or saved with the given column values.
func (t *Tracker) settle(snapshot map[string]any) {
	t.SetAsNotVirgin()
	t.diff = true
	t.snapshot = snapshot
}

// forget returns a deleted entity to the virgin state.
func (t *Tracker) forget() {
	t.persisted = false
	t.diff = false
	t.changed = nil
	t.snapshot = nil
}

// stateOf returns the tracker of an entity pointer, nil when not embedded.
func stateOf(entity reflect.Value) *Tracker {
	if entity.Kind() != reflect.Ptr || entity.IsNil() {
		return nil
	}
	if tr, ok := entity.Interface().(trackable); ok {
		return tr.entityState()
	}
	return nil
}

// columnSnapshot captures every persisted column value of the entity,
// foreign keys included when the related key is known.
func columnSnapshot(reg *Registry, meta *EntityMetadata, entity reflect.Value) map[string]any {
	v := entity.Elem()
	snap := make(map[string]any, len(meta.Columns)+len(meta.Relations))
	for _, col := range meta.Columns {
		snap[col.Field] = v.FieldByIndex(col.Index).Interface()
	}
	for _, rel := range meta.ForeignKeys() {
		if key, known, err := foreignKeyValue(reg, meta, v, rel); err == nil && known {
			snap[rel.Field] = key
		}
	}
	return snap
}

// dirtyFields returns the recorded changes followed by fields whose value
// drifted from the snapshot.
func dirtyFields(reg *Registry, meta *EntityMetadata, entity reflect.Value, t *Tracker) []string {
	out := slices.Clone(t.changed)
	if t.snapshot == nil {
		return out
	}

	v := entity.Elem()
	add := func(field string) {
		if !slices.Contains(out, field) {
			out = append(out, field)
		}
	}
	for _, col := range meta.Columns {
		orig, ok := t.snapshot[col.Field]
		if !ok || !reflect.DeepEqual(orig, v.FieldByIndex(col.Index).Interface()) {
			add(col.Field)
		}
	}
	for _, rel := range meta.ForeignKeys() {
		key, known, err := foreignKeyValue(reg, meta, v, rel)
		if err != nil || !known {
			continue
		}
		orig, ok := t.snapshot[rel.Field]
		if !ok {
			if key != nil {
				add(rel.Field)
			}
			continue
		}
		if !compareIDs(orig, key) {
			add(rel.Field)
		}
	}
	return out
}
