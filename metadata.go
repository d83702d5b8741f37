package graphorm

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/gertd/go-pluralize"
	"github.com/iancoleman/strcase"
)

// TagName is the struct tag key read by the metadata resolver.
const TagName = "graphorm"

// RelationKind classifies a relation property.
type RelationKind int

const (
	RelationOneToOneEager RelationKind = iota
	RelationOneToOneLazy
	RelationOneToMany
	RelationOneToManyLazy
)

func (k RelationKind) String() string {
	switch k {
	case RelationOneToOneEager:
		return "1-1"
	case RelationOneToOneLazy:
		return "1-1 lazy"
	case RelationOneToMany:
		return "1-N"
	case RelationOneToManyLazy:
		return "1-N lazy"
	}
	return "unknown"
}

// ColumnInfo describes one mapped scalar property.
type ColumnInfo struct {
	Field         string // Struct field name
	Column        string // DB column name
	Primary       bool
	AutoIncrement bool
	Type          reflect.Type
	Index         []int
}

// RelationDescriptor describes a relation property.
//
// A descriptor without Column is the owning side: the target table holds
// JoinColumn referencing this entity's primary key. A descriptor with
// Column is the inverse side: this table holds Column referencing the
// target's primary key, and the relation takes part in INSERT and UPDATE.
type RelationDescriptor struct {
	Kind          RelationKind
	Field         string
	Index         []int
	Target        reflect.Type // struct type of the related entity
	JoinColumn    string
	Column        string
	OwnerKey      string // owner primary key column, used by one-to-many follow-ups
	CascadeDelete bool
	Nullable      bool
}

func (r *RelationDescriptor) Lazy() bool {
	return r.Kind == RelationOneToOneLazy || r.Kind == RelationOneToManyLazy
}

func (r *RelationDescriptor) Collection() bool {
	return r.Kind == RelationOneToMany || r.Kind == RelationOneToManyLazy
}

func (r *RelationDescriptor) Owning() bool {
	return r.Column == ""
}

// EntityMetadata is the resolved mapping of one entity type.
type EntityMetadata struct {
	Type       reflect.Type
	Table      string
	Columns    []*ColumnInfo
	PrimaryKey *ColumnInfo
	Relations  []*RelationDescriptor

	fields    map[string]*ColumnInfo
	relations map[string]*RelationDescriptor
}

// Name returns the Go type name of the entity.
func (m *EntityMetadata) Name() string {
	return m.Type.Name()
}

// Column returns the column mapped by the struct field name.
func (m *EntityMetadata) Column(field string) (*ColumnInfo, bool) {
	c, ok := m.fields[field]
	return c, ok
}

// ColumnNamed returns the plain column with the given column name.
func (m *EntityMetadata) ColumnNamed(column string) (*ColumnInfo, bool) {
	for _, c := range m.Columns {
		if c.Column == column {
			return c, true
		}
	}
	return nil, false
}

// Relation returns the relation declared on the struct field name.
func (m *EntityMetadata) Relation(field string) (*RelationDescriptor, bool) {
	r, ok := m.relations[field]
	return r, ok
}

// ForeignKeys returns the inverse side relations, whose column lives on this table.
func (m *EntityMetadata) ForeignKeys() []*RelationDescriptor {
	var out []*RelationDescriptor
	for _, rel := range m.Relations {
		if !rel.Owning() {
			out = append(out, rel)
		}
	}
	return out
}

// ColumnNames returns the plain column names, foreign key columns appended
// when includeFK is set.
func (m *EntityMetadata) ColumnNames(includeFK bool) []string {
	names := make([]string, 0, len(m.Columns))
	for _, c := range m.Columns {
		names = append(names, c.Column)
	}
	if includeFK {
		for _, rel := range m.ForeignKeys() {
			names = append(names, rel.Column)
		}
	}
	return names
}

// inverseOf finds the relation on m typed as owner and holding the join column.
func (m *EntityMetadata) inverseOf(owner reflect.Type) *RelationDescriptor {
	for _, rel := range m.Relations {
		if rel.Target == owner && !rel.Owning() && !rel.Collection() {
			return rel
		}
	}
	return nil
}

// Registry resolves and caches entity metadata. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	entities map[reflect.Type]*EntityMetadata
	plans    *planCache
	plural   *pluralize.Client
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entities: make(map[reflect.Type]*EntityMetadata),
		plans:    newPlanCache(),
		plural:   pluralize.NewClient(),
	}
}

// DefaultRegistry is used by sessions created without WithRegistry.
var DefaultRegistry = NewRegistry()

// TypeOf returns the struct type of T, the form every graphorm API expects.
func TypeOf[T any]() reflect.Type {
	return indirectType(reflect.TypeOf((*T)(nil)).Elem())
}

func indirectType(t reflect.Type) reflect.Type {
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}

// Register resolves every entity and the entities reachable through their
// relations, so mapping errors surface before the first query.
func (r *Registry) Register(entities ...any) error {
	seen := make(map[reflect.Type]bool)
	var walk func(t reflect.Type) error
	walk = func(t reflect.Type) error {
		if seen[t] {
			return nil
		}
		seen[t] = true
		meta, err := r.Resolve(t)
		if err != nil {
			return err
		}
		for _, rel := range meta.Relations {
			if err := walk(rel.Target); err != nil {
				return err
			}
		}
		return nil
	}

	for _, e := range entities {
		var t reflect.Type
		if rt, ok := e.(reflect.Type); ok {
			t = rt
		} else {
			t = reflect.TypeOf(e)
		}
		if err := walk(indirectType(t)); err != nil {
			return err
		}
	}
	return nil
}

// FieldValues returns the column values of entity keyed by column name.
// With includeFK, inverse side relations contribute the primary key of the
// related entity; lazy ones never loaded are left out.
func (r *Registry) FieldValues(entity any, includeFK bool) (map[string]any, error) {
	ptr, err := entityPointer(entity)
	if err != nil {
		return nil, err
	}
	meta, err := r.Resolve(ptr.Type())
	if err != nil {
		return nil, err
	}

	v := ptr.Elem()
	out := make(map[string]any, len(meta.Columns))
	for _, col := range meta.Columns {
		out[col.Column] = v.FieldByIndex(col.Index).Interface()
	}
	if !includeFK {
		return out, nil
	}
	for _, rel := range meta.ForeignKeys() {
		key, known, err := foreignKeyValue(r, meta, v, rel)
		if err != nil {
			return nil, err
		}
		if known {
			out[rel.Column] = key
		}
	}
	return out, nil
}

// Entities returns all resolved metadata ordered by table name.
func (r *Registry) Entities() []*EntityMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*EntityMetadata, 0, len(r.entities))
	for _, m := range r.entities {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Table < out[j].Table })
	return out
}

// Resolve returns the metadata of the entity type, building it on first use.
func (r *Registry) Resolve(typ reflect.Type) (*EntityMetadata, error) {
	typ = indirectType(typ)
	if typ == nil || typ.Kind() != reflect.Struct {
		return nil, &MappingError{Entity: fmt.Sprint(typ), Reason: "entity must be a struct"}
	}

	r.mu.RLock()
	if meta, ok := r.entities[typ]; ok {
		r.mu.RUnlock()
		return meta, nil
	}
	r.mu.RUnlock()

	meta, err := r.build(typ)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double check locking
	if existing, ok := r.entities[typ]; ok {
		return existing, nil
	}
	r.entities[typ] = meta
	return meta, nil
}

func (r *Registry) build(typ reflect.Type) (*EntityMetadata, error) {
	meta := &EntityMetadata{
		Type:      typ,
		fields:    make(map[string]*ColumnInfo),
		relations: make(map[string]*RelationDescriptor),
	}

	tabler, ok := reflect.New(typ).Interface().(interface{ TableName() string })
	if !ok || tabler.TableName() == "" {
		return nil, &MappingError{Entity: typ.Name(), Reason: "no table declared, implement TableName() string"}
	}
	meta.Table = tabler.TableName()

	var idField *ColumnInfo
	for _, field := range flattenFields(typ, nil) {
		tag := parseTag(field.Tag.Get(TagName))
		if tag.skip {
			continue
		}

		if tag.relation != "" || isLazyType(field.Type) {
			rel, err := r.buildRelation(meta, field, tag)
			if err != nil {
				return nil, err
			}
			meta.Relations = append(meta.Relations, rel)
			meta.relations[rel.Field] = rel
			continue
		}

		col := &ColumnInfo{
			Field:         field.Name,
			Column:        strcase.ToSnake(field.Name),
			Primary:       tag.primary,
			AutoIncrement: tag.autoIncrement,
			Type:          field.Type,
			Index:         field.Index,
		}
		if tag.column != "" {
			col.Column = tag.column
		}

		if col.Primary {
			if meta.PrimaryKey != nil {
				return nil, &MappingError{Entity: typ.Name(), Field: field.Name, Reason: "second primary key, " + meta.PrimaryKey.Field + " is already primary"}
			}
			meta.PrimaryKey = col
		}
		if field.Name == "ID" {
			idField = col
		}

		meta.Columns = append(meta.Columns, col)
		meta.fields[col.Field] = col
	}

	// A field named "ID" is primary when nothing is tagged
	if meta.PrimaryKey == nil && idField != nil {
		idField.Primary = true
		meta.PrimaryKey = idField
	}
	if meta.PrimaryKey == nil {
		return nil, &MappingError{Entity: typ.Name(), Reason: "no primary key declared"}
	}

	for _, rel := range meta.Relations {
		if rel.Collection() {
			rel.OwnerKey = meta.PrimaryKey.Column
		}
	}

	return meta, nil
}

func (r *Registry) buildRelation(meta *EntityMetadata, field reflect.StructField, tag fieldTag) (*RelationDescriptor, error) {
	fail := func(reason string) error {
		return &MappingError{Entity: meta.Type.Name(), Field: field.Name, Reason: reason}
	}
	if tag.relation == "" {
		return nil, fail("lazy field without oneToOne or oneToMany declaration")
	}

	lazy := isLazyType(field.Type)
	if tag.lazy && !lazy {
		return nil, fail("lazy relation must be declared as graphorm.Lazy")
	}
	if lazy && tag.column != "" {
		return nil, fail("lazy relation cannot hold a column, declare it on the owning side")
	}

	valueType := field.Type
	if lazy {
		valueType = reflect.New(field.Type).Interface().(lazyValue).valueType()
	}

	rel := &RelationDescriptor{
		Field:         field.Name,
		Index:         field.Index,
		JoinColumn:    tag.joinColumn,
		Column:        tag.column,
		CascadeDelete: tag.cascadeDelete,
		Nullable:      tag.nullable,
	}

	switch tag.relation {
	case "oneToOne":
		if valueType.Kind() != reflect.Ptr || valueType.Elem().Kind() != reflect.Struct {
			return nil, fail("oneToOne relation must be a pointer to an entity")
		}
		rel.Target = valueType.Elem()
		rel.Kind = RelationOneToOneEager
		if lazy {
			rel.Kind = RelationOneToOneLazy
		}
	case "oneToMany":
		if valueType.Kind() != reflect.Slice || valueType.Elem().Kind() != reflect.Ptr ||
			valueType.Elem().Elem().Kind() != reflect.Struct {
			return nil, fail("oneToMany relation must be a slice of entity pointers")
		}
		if rel.Column != "" {
			return nil, fail("oneToMany relation cannot hold a column")
		}
		rel.Target = valueType.Elem().Elem()
		rel.Kind = RelationOneToMany
		if lazy {
			rel.Kind = RelationOneToManyLazy
		}
	default:
		return nil, fail("unknown relation " + tag.relation)
	}

	if rel.Column != "" && rel.JoinColumn == "" {
		rel.JoinColumn = rel.Column
	}
	if rel.JoinColumn == "" {
		rel.JoinColumn = r.plural.Singular(meta.Table) + "_id"
	}

	return rel, nil
}

// flattenFields lists exported fields, promoting untagged embedded structs.
func flattenFields(typ reflect.Type, index []int) []reflect.StructField {
	var out []reflect.StructField
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		field.Index = append(append([]int(nil), index...), i)

		if field.Anonymous {
			if field.Type == trackerType {
				continue
			}
			if field.Type.Kind() == reflect.Struct && field.Tag.Get(TagName) == "" {
				out = append(out, flattenFields(field.Type, field.Index)...)
				continue
			}
		}
		// Skip unexported fields
		if field.PkgPath != "" {
			continue
		}
		out = append(out, field)
	}
	return out
}

type fieldTag struct {
	skip          bool
	column        string
	primary       bool
	autoIncrement bool
	relation      string
	joinColumn    string
	lazy          bool
	nullable      bool
	cascadeDelete bool
}

// parseTag reads `graphorm:"column:x;primary;autoIncrement"` style tags.
func parseTag(tag string) fieldTag {
	var ft fieldTag
	if tag == "-" {
		ft.skip = true
		return ft
	}

	for _, part := range strings.Split(tag, ";") {
		key, val, _ := strings.Cut(part, ":")
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)

		switch key {
		case "column":
			ft.column = val
		case "primary":
			ft.primary = true
		case "autoIncrement":
			ft.autoIncrement = true
		case "oneToOne", "oneToMany":
			ft.relation = key
			ft.joinColumn = val
		case "lazy":
			ft.lazy = true
		case "nullable":
			ft.nullable = true
		case "cascadeDelete":
			ft.cascadeDelete = true
		}
	}
	return ft
}
