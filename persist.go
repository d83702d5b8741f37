package graphorm

import (
	"context"
	"fmt"
	"reflect"
	"slices"

	"github.com/google/uuid"
)

// Insert stores entity and, in the same transaction, every entity it owns
// through its relations. Generated primary keys are written back.
func (s *Session) Insert(ctx context.Context, entity any) error {
	v, err := entityPointer(entity)
	if err != nil {
		return err
	}
	return s.inTx(ctx, func() error {
		return s.insertGraph(ctx, v, nil)
	})
}

// Update writes entity and cascades into the entities it owns. Owned
// entities without a primary key are inserted. Diff-capable entities only
// write changed columns and are skipped when nothing changed. Other
// entities write every column plus the foreign keys of relations that are
// set; a nil relation leaves its stored key untouched.
func (s *Session) Update(ctx context.Context, entity any) error {
	v, err := entityPointer(entity)
	if err != nil {
		return err
	}
	return s.inTx(ctx, func() error {
		return s.updateGraph(ctx, v)
	})
}

// Delete removes entity by primary key. Owned relations declared with
// cascadeDelete are deleted first, within the same transaction; lazy ones
// are loaded for that purpose.
func (s *Session) Delete(ctx context.Context, entity any) error {
	v, err := entityPointer(entity)
	if err != nil {
		return err
	}
	return s.inTx(ctx, func() error {
		return s.deleteGraph(ctx, v)
	})
}

func entityPointer(entity any) (reflect.Value, error) {
	v := reflect.ValueOf(entity)
	if !v.IsValid() || v.Kind() != reflect.Ptr || v.IsNil() {
		return reflect.Value{}, ErrNilPointer
	}
	if v.Elem().Kind() != reflect.Struct {
		return reflect.Value{}, &MappingError{Entity: v.Type().String(), Reason: "entity must be a pointer to a struct"}
	}
	return v, nil
}

// insertGraph inserts one entity then its owned children. extra holds join
// columns set by the parent for children that declare no inverse relation.
func (s *Session) insertGraph(ctx context.Context, ptr reflect.Value, extra map[string]any) error {
	meta, err := s.registry.Resolve(ptr.Type())
	if err != nil {
		return err
	}
	v := ptr.Elem()
	pk := primaryKeyValue(meta, v)
	auto := meta.PrimaryKey.AutoIncrement

	if !auto && pk.Type() == uuidType && pk.IsZero() {
		pk.Set(reflect.ValueOf(uuid.New()))
	}

	var (
		columns []string
		args    []any
	)
	for _, col := range meta.Columns {
		if col.Primary && auto {
			continue
		}
		columns = append(columns, col.Column)
		args = append(args, v.FieldByIndex(col.Index).Interface())
	}
	for _, rel := range meta.ForeignKeys() {
		key, _, err := foreignKeyValue(s.registry, meta, v, rel)
		if err != nil {
			return err
		}
		columns = append(columns, rel.Column)
		args = append(args, key)
	}
	for column, value := range extra {
		if i := slices.Index(columns, column); i >= 0 {
			args[i] = value
			continue
		}
		columns = append(columns, column)
		args = append(args, value)
	}

	returning := auto && s.conn.Dialect.InsertReturning
	query := s.compiler.Insert(meta, columns, returning)

	switch {
	case returning:
		var id any
		if err := s.queryRow(ctx, "INSERT", query, args, &id); err != nil {
			return err
		}
		if err := assignValue(pk, id); err != nil {
			return fmt.Errorf("graphorm: generated key of %s: %w", meta.Name(), err)
		}
	case auto:
		res, err := s.exec(ctx, "INSERT", query, args)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return WrapQueryError("INSERT", query, args, err)
		}
		if err := assignValue(pk, id); err != nil {
			return fmt.Errorf("graphorm: generated key of %s: %w", meta.Name(), err)
		}
	default:
		if _, err := s.exec(ctx, "INSERT", query, args); err != nil {
			return err
		}
	}

	err = s.eachOwned(ptr, meta, func(rel *RelationDescriptor, child reflect.Value) error {
		extra, err := s.attach(meta, ptr, rel, child)
		if err != nil {
			return err
		}
		return s.insertGraph(ctx, child, extra)
	})
	if err != nil {
		return err
	}

	if tr := stateOf(ptr); tr != nil {
		tr.settle(columnSnapshot(s.registry, meta, ptr))
	}
	return nil
}

// updateGraph cascades into owned children first, then writes the entity.
func (s *Session) updateGraph(ctx context.Context, ptr reflect.Value) error {
	meta, err := s.registry.Resolve(ptr.Type())
	if err != nil {
		return err
	}
	v := ptr.Elem()

	err = s.eachOwned(ptr, meta, func(rel *RelationDescriptor, child reflect.Value) error {
		extra, err := s.attach(meta, ptr, rel, child)
		if err != nil {
			return err
		}
		childMeta, err := s.registry.Resolve(child.Type())
		if err != nil {
			return err
		}
		if isEmptyKey(primaryKeyValue(childMeta, child.Elem())) {
			return s.insertGraph(ctx, child, extra)
		}
		return s.updateGraph(ctx, child)
	})
	if err != nil {
		return err
	}

	pk := primaryKeyValue(meta, v)
	if isEmptyKey(pk) {
		return fmt.Errorf("%w: update of %s", ErrMissingPrimaryKey, meta.Name())
	}

	tr := stateOf(ptr)
	useDiff := tr != nil && tr.CanUseDiff()
	var changed []string
	if useDiff {
		changed = dirtyFields(s.registry, meta, ptr, tr)
		if len(changed) == 0 {
			return nil
		}
	}
	wanted := func(field string) bool {
		return !useDiff || slices.Contains(changed, field)
	}

	var (
		columns []string
		args    []any
	)
	for _, col := range meta.Columns {
		if col.Primary || !wanted(col.Field) {
			continue
		}
		columns = append(columns, col.Column)
		args = append(args, v.FieldByIndex(col.Index).Interface())
	}
	for _, rel := range meta.ForeignKeys() {
		if !wanted(rel.Field) {
			continue
		}
		key, known, err := foreignKeyValue(s.registry, meta, v, rel)
		if err != nil {
			return err
		}
		if !known || (key == nil && !useDiff) {
			// a nil relation on an entity without a snapshot may simply not
			// have been reached by the select that loaded it
			continue
		}
		columns = append(columns, rel.Column)
		args = append(args, key)
	}

	if len(columns) > 0 {
		args = append(args, pk.Interface())
		if _, err := s.exec(ctx, "UPDATE", s.compiler.Update(meta, columns), args); err != nil {
			return err
		}
	}

	if tr != nil {
		tr.settle(columnSnapshot(s.registry, meta, ptr))
	}
	return nil
}

// deleteGraph deletes cascading children first, then the entity.
func (s *Session) deleteGraph(ctx context.Context, ptr reflect.Value) error {
	meta, err := s.registry.Resolve(ptr.Type())
	if err != nil {
		return err
	}
	v := ptr.Elem()

	pk := primaryKeyValue(meta, v)
	if isEmptyKey(pk) {
		return fmt.Errorf("%w: delete of %s", ErrMissingPrimaryKey, meta.Name())
	}

	for _, rel := range meta.Relations {
		if !rel.Owning() || !rel.CascadeDelete {
			continue
		}
		if rel.Lazy() {
			if err := lazyField(v.FieldByIndex(rel.Index)).load(ctx); err != nil {
				return err
			}
		}
		value, ok := relationValue(v, rel)
		if !ok {
			continue
		}
		for _, child := range relationElements(value) {
			if err := s.deleteGraph(ctx, child); err != nil {
				return err
			}
		}
	}

	if _, err := s.exec(ctx, "DELETE", s.compiler.Delete(meta), []any{pk.Interface()}); err != nil {
		return err
	}
	if tr := stateOf(ptr); tr != nil {
		tr.forget()
	}
	return nil
}

// eachOwned calls fn for every non-nil entity reachable through an owning
// relation. Lazy relations that were never loaded are skipped.
func (s *Session) eachOwned(ptr reflect.Value, meta *EntityMetadata, fn func(rel *RelationDescriptor, child reflect.Value) error) error {
	v := ptr.Elem()
	for _, rel := range meta.Relations {
		if !rel.Owning() {
			continue
		}
		value, ok := relationValue(v, rel)
		if !ok {
			continue
		}
		for _, child := range relationElements(value) {
			if err := fn(rel, child); err != nil {
				return err
			}
		}
	}
	return nil
}

// relationElements lists the non-nil entity pointers of a relation value.
func relationElements(value reflect.Value) []reflect.Value {
	if !value.IsValid() {
		return nil
	}
	switch value.Kind() {
	case reflect.Ptr:
		if value.IsNil() {
			return nil
		}
		return []reflect.Value{value}
	case reflect.Slice:
		out := make([]reflect.Value, 0, value.Len())
		for i := 0; i < value.Len(); i++ {
			if el := value.Index(i); !el.IsNil() {
				out = append(out, el)
			}
		}
		return out
	}
	return nil
}

// attach points child back at parent. A child declaring the inverse relation
// gets its nil back-reference set. Otherwise the parent key is stored in the
// child field mapped to the join column, or returned as an extra insert
// column when no field maps to it.
func (s *Session) attach(parentMeta *EntityMetadata, parent reflect.Value, rel *RelationDescriptor, child reflect.Value) (map[string]any, error) {
	childMeta, err := s.registry.Resolve(child.Type())
	if err != nil {
		return nil, err
	}
	if inverse := childMeta.inverseOf(parentMeta.Type); inverse != nil {
		if current, ok := relationValue(child.Elem(), inverse); ok && current.IsNil() {
			setRelation(child.Elem(), inverse, parent)
		}
		return nil, nil
	}

	key := primaryKeyValue(parentMeta, parent.Elem()).Interface()
	if col, ok := childMeta.ColumnNamed(rel.JoinColumn); ok {
		if err := assignValue(child.Elem().FieldByIndex(col.Index), key); err != nil {
			return nil, fmt.Errorf("graphorm: join column %s.%s: %w", childMeta.Name(), col.Field, err)
		}
		return nil, nil
	}
	return map[string]any{rel.JoinColumn: key}, nil
}
