package graphorm

import (
	"context"
	"fmt"
	"reflect"
	"slices"
)

// newInstance builds an entity from a field name to driver value mapping.
func newInstance(meta *EntityMetadata, fields map[string]any) (reflect.Value, error) {
	inst := reflect.New(meta.Type)
	v := inst.Elem()
	for name, value := range fields {
		col, ok := meta.Column(name)
		if !ok {
			return reflect.Value{}, &MappingError{Entity: meta.Name(), Field: name, Reason: "no such mapped property"}
		}
		if err := assignValue(v.FieldByIndex(col.Index), value); err != nil {
			return reflect.Value{}, fmt.Errorf("graphorm: hydrate %s.%s: %w", meta.Name(), name, err)
		}
	}
	return inst, nil
}

// hydrate turns result rows into entity graphs, one per row, in row order.
// Row values are laid out node by node in plan order.
func (s *Session) hydrate(ctx context.Context, plan *JoinPlan, rows [][]any) ([]reflect.Value, error) {
	results := make([]reflect.Value, 0, len(rows))
	for _, row := range rows {
		instances, err := s.instantiateRow(plan, row)
		if err != nil {
			return nil, err
		}

		for _, link := range plan.Deferred {
			if link.Ancestor == nil {
				continue
			}
			child, parent := instances[link.Node.pos], instances[link.Ancestor.pos]
			if child.IsValid() && parent.IsValid() {
				setRelation(child.Elem(), link.Relation, parent)
			}
		}

		for i, inst := range instances {
			if inst.IsValid() {
				s.settle(plan.Nodes[i].Meta, inst)
			}
		}

		for _, link := range plan.Many {
			owner := instances[link.Node.pos]
			if !owner.IsValid() {
				continue
			}
			if err := s.loadMany(ctx, plan, link, owner); err != nil {
				return nil, err
			}
		}

		results = append(results, instances[0])
	}
	return results, nil
}

func (s *Session) instantiateRow(plan *JoinPlan, row []any) ([]reflect.Value, error) {
	instances := make([]reflect.Value, len(plan.Nodes))
	offset := 0
	for i, node := range plan.Nodes {
		values := row[offset : offset+len(node.Meta.Columns)]
		offset += len(node.Meta.Columns)

		if node.Parent != nil {
			// absent parent or LEFT JOIN miss
			if !instances[node.Parent.pos].IsValid() || values[slices.Index(node.Meta.Columns, node.Meta.PrimaryKey)] == nil {
				continue
			}
		}

		fields := make(map[string]any, len(values))
		for j, col := range node.Meta.Columns {
			fields[col.Field] = values[j]
		}
		inst, err := newInstance(node.Meta, fields)
		if err != nil {
			return nil, err
		}
		instances[i] = inst

		if node.Parent != nil {
			setRelation(instances[node.Parent.pos].Elem(), node.Via, inst)
		}
	}
	return instances, nil
}

// settle marks a hydrated instance as loaded and binds its lazy relations
// to the session.
func (s *Session) settle(meta *EntityMetadata, inst reflect.Value) {
	tr := stateOf(inst)
	for _, rel := range meta.Relations {
		if !rel.Lazy() {
			continue
		}
		rel := rel
		if tr != nil {
			tr.markPending(rel.Field)
		}
		lazyField(inst.Elem().FieldByIndex(rel.Index)).bind(func(ctx context.Context) error {
			return s.loadLazy(ctx, meta, inst, rel)
		})
	}
	if tr != nil {
		tr.settle(columnSnapshot(s.registry, meta, inst))
	}
}

// resnapshot refreshes the snapshot of an instance whose foreign keys were
// wired after it was settled.
func (s *Session) resnapshot(meta *EntityMetadata, inst reflect.Value) {
	if tr := stateOf(inst); tr != nil && !tr.IsVirgin() {
		tr.snapshot = columnSnapshot(s.registry, meta, inst)
	}
}

// loadMany resolves one eager one-to-many relation of owner with a follow-up
// select guarded by the owner's ancestry.
func (s *Session) loadMany(ctx context.Context, plan *JoinPlan, link ManyLink, owner reflect.Value) error {
	guard := slices.Clone(plan.Guard)
	for n := link.Node; n != nil; n = n.Parent {
		if !slices.Contains(guard, n.Meta.Type) {
			guard = append(guard, n.Meta.Type)
		}
	}

	children, err := s.loadRelated(ctx, link.Node.Meta, owner, link.Relation, guard)
	if err != nil {
		return err
	}
	setRelation(owner.Elem(), link.Relation, children)
	return nil
}

// loadLazy resolves a lazy relation on first access.
func (s *Session) loadLazy(ctx context.Context, meta *EntityMetadata, owner reflect.Value, rel *RelationDescriptor) error {
	value, err := s.loadRelated(ctx, meta, owner, rel, []reflect.Type{meta.Type})
	if err != nil {
		return err
	}
	lazyField(owner.Elem().FieldByIndex(rel.Index)).assign(value)
	if tr := stateOf(owner); tr != nil {
		tr.resolvePending(rel.Field)
	}
	return nil
}

// loadRelated selects the targets of an owning relation by an exact
// predicate on their join column, wires their back-references to owner
// and returns either the slice or the single pointer the field holds.
func (s *Session) loadRelated(ctx context.Context, meta *EntityMetadata, owner reflect.Value, rel *RelationDescriptor, guard []reflect.Type) (reflect.Value, error) {
	target, err := s.registry.Resolve(rel.Target)
	if err != nil {
		return reflect.Value{}, err
	}

	column := rel.JoinColumn
	inverse := target.inverseOf(meta.Type)
	if inverse != nil {
		column = inverse.Column
	}

	pk := primaryKeyValue(meta, owner.Elem())
	if isEmptyKey(pk) {
		return reflect.Value{}, fmt.Errorf("%w: %s", ErrMissingPrimaryKey, meta.Name())
	}

	q := NewQuery().Where(WhereExact(column, Eq, pk.Interface()))
	if !rel.Collection() {
		q.Limit(1).Offset(0)
	}
	found, err := s.selectGraph(ctx, rel.Target, q, guard)
	if err != nil {
		return reflect.Value{}, err
	}

	if inverse != nil {
		for _, child := range found {
			setRelation(child.Elem(), inverse, owner)
			s.resnapshot(target, child)
		}
	}

	if !rel.Collection() {
		if len(found) == 0 {
			return reflect.Zero(reflect.PointerTo(rel.Target)), nil
		}
		return found[0], nil
	}

	slice := reflect.MakeSlice(reflect.SliceOf(reflect.PointerTo(rel.Target)), 0, len(found))
	for _, child := range found {
		slice = reflect.Append(slice, child)
	}
	return slice, nil
}
