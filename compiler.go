package graphorm

import (
	"reflect"
	"strconv"
	"strings"
)

// Compiler turns join plans, predicate groups and entity metadata into
// parameterized SQL. Placeholders are always emitted as ?; Session rebinds
// them for dialects with numbered placeholders.
type Compiler struct {
	Dialect *Dialect
}

// NewCompiler creates a compiler quoting identifiers for d.
func NewCompiler(d *Dialect) *Compiler {
	if d == nil {
		d = Dialects.SQLite3
	}
	return &Compiler{Dialect: d}
}

func (c *Compiler) q(ident string) string {
	return c.Dialect.Quote(ident)
}

func (c *Compiler) aliased(alias, column string) string {
	return c.q(alias) + "." + c.q(column)
}

// ColumnMap returns, for every entity type of the plan, the aliased column
// expression of each mapped field. A type joined more than once maps to its
// first node.
func (c *Compiler) ColumnMap(p *JoinPlan) map[reflect.Type]map[string]string {
	out := make(map[reflect.Type]map[string]string)
	for _, n := range p.Nodes {
		if _, ok := out[n.Meta.Type]; ok {
			continue
		}
		cols := make(map[string]string, len(n.Meta.Columns))
		for _, col := range n.Meta.Columns {
			cols[col.Field] = c.aliased(n.Alias, col.Column)
		}
		out[n.Meta.Type] = cols
	}
	return out
}

// Select compiles a SELECT over the whole plan. limit and offset are only
// emitted when non-nil.
func (c *Compiler) Select(p *JoinPlan, groups []PredicateGroup, order Order, limit, offset *int) (string, []any, error) {
	where, args, err := c.where(p, groups)
	if err != nil {
		return "", nil, err
	}
	orderBy, err := c.orderBy(p, order)
	if err != nil {
		return "", nil, err
	}

	sb := &strings.Builder{}
	sb.WriteString("SELECT ")
	c.writeSelectList(sb, p)
	sb.WriteByte(' ')
	c.writeFrom(sb, p)
	if where != "" {
		sb.WriteByte(' ')
		sb.WriteString(where)
	}
	if orderBy != "" {
		sb.WriteByte(' ')
		sb.WriteString(orderBy)
	}
	if limit != nil {
		sb.WriteString(" LIMIT ")
		sb.WriteString(strconv.Itoa(*limit))
	}
	if offset != nil {
		sb.WriteString(" OFFSET ")
		sb.WriteString(strconv.Itoa(*offset))
	}
	return sb.String(), args, nil
}

// Count compiles a SELECT COUNT(*) over the plan's tables.
func (c *Compiler) Count(p *JoinPlan, groups []PredicateGroup) (string, []any, error) {
	where, args, err := c.where(p, groups)
	if err != nil {
		return "", nil, err
	}

	sb := &strings.Builder{}
	sb.WriteString("SELECT COUNT(*) ")
	c.writeFrom(sb, p)
	if where != "" {
		sb.WriteByte(' ')
		sb.WriteString(where)
	}
	return sb.String(), args, nil
}

func (c *Compiler) writeSelectList(sb *strings.Builder, p *JoinPlan) {
	for i, n := range p.Nodes {
		if i > 0 {
			sb.WriteString(", ")
		}
		for j, col := range n.Meta.Columns {
			if j > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(c.aliased(n.Alias, col.Column))
			sb.WriteString(" AS ")
			sb.WriteString(c.q(n.Alias + col.Column))
		}
	}
}

func (c *Compiler) writeFrom(sb *strings.Builder, p *JoinPlan) {
	sb.WriteString("FROM ")
	sb.WriteString(c.q(p.Root.Meta.Table))
	sb.WriteString(" AS ")
	sb.WriteString(c.q(p.Root.Alias))

	for _, n := range p.Joins() {
		if n.Nullable {
			sb.WriteString(" LEFT JOIN ")
		} else {
			sb.WriteString(" JOIN ")
		}
		sb.WriteString(c.q(n.Meta.Table))
		sb.WriteString(" AS ")
		sb.WriteString(c.q(n.Alias))
		sb.WriteString(" ON (")
		sb.WriteString(c.aliased(n.JoinKey()))
		sb.WriteString(" = ")
		sb.WriteString(c.aliased(n.ParentKey()))
		sb.WriteByte(')')
	}
}

// where compiles OR-ed groups of AND-ed predicates. Empty groups are skipped.
func (c *Compiler) where(p *JoinPlan, groups []PredicateGroup) (string, []any, error) {
	var (
		parts []string
		args  []any
	)
	for _, g := range groups {
		if err := g.Err(); err != nil {
			return "", nil, err
		}
		if len(g.preds) == 0 {
			continue
		}

		conds := make([]string, 0, len(g.preds))
		for _, pred := range g.preds {
			expr, err := c.predicateColumn(p, pred)
			if err != nil {
				return "", nil, err
			}
			cond, condArgs := c.condition(expr, pred)
			conds = append(conds, cond)
			args = append(args, condArgs...)
		}
		parts = append(parts, "("+strings.Join(conds, " AND ")+")")
	}

	if len(parts) == 0 {
		return "", nil, nil
	}
	return "WHERE " + strings.Join(parts, " OR "), args, nil
}

func (c *Compiler) predicateColumn(p *JoinPlan, pred Predicate) (string, error) {
	if pred.Exact {
		return c.aliased(p.Root.Alias, pred.Field), nil
	}
	return c.fieldColumn(p, pred.Owner, pred.Field)
}

// fieldColumn resolves owner.field through the plan. Inverse side relation
// fields resolve to their foreign key column.
func (c *Compiler) fieldColumn(p *JoinPlan, owner reflect.Type, field string) (string, error) {
	if owner == nil {
		return "", &MappingError{Entity: "<nil>", Field: field, Reason: "predicate without owner type"}
	}
	node, ok := p.NodeFor(owner)
	if !ok {
		return "", &MappingError{Entity: owner.Name(), Field: field, Reason: "entity is not part of the join graph of " + p.Root.Meta.Name()}
	}
	if col, ok := node.Meta.Column(field); ok {
		return c.aliased(node.Alias, col.Column), nil
	}
	if rel, ok := node.Meta.Relation(field); ok && !rel.Owning() {
		return c.aliased(node.Alias, rel.Column), nil
	}
	return "", &MappingError{Entity: owner.Name(), Field: field, Reason: "no such mapped property"}
}

func (c *Compiler) condition(expr string, pred Predicate) (string, []any) {
	switch pred.Op {
	case In, NotIn:
		values := expand(pred.Value)
		if len(values) == 0 {
			// IN () is not valid SQL
			if pred.Op == In {
				return "1 = 0", nil
			}
			return "1 = 1", nil
		}
		marks := strings.TrimSuffix(strings.Repeat("?,", len(values)), ",")
		return expr + " " + string(pred.Op) + " (" + marks + ")", values

	case Between:
		bounds := expand(pred.Value)
		return expr + " BETWEEN ? AND ?", bounds
	}
	return expr + " " + string(pred.Op) + " ?", []any{pred.Value}
}

// expand flattens a slice or array value; anything else is a single value.
func expand(value any) []any {
	v := reflect.ValueOf(value)
	if !v.IsValid() {
		return []any{nil}
	}
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		return []any{value}
	}
	// []byte is one value
	if v.Type().Elem().Kind() == reflect.Uint8 {
		return []any{value}
	}
	out := make([]any, v.Len())
	for i := range out {
		out[i] = v.Index(i).Interface()
	}
	return out
}

func (c *Compiler) orderBy(p *JoinPlan, o Order) (string, error) {
	if err := o.Err(); err != nil {
		return "", err
	}
	if o.IsZero() {
		return "", nil
	}

	terms := make([]string, 0, len(o.terms))
	for _, t := range o.terms {
		expr, err := c.fieldColumn(p, t.owner, t.field)
		if err != nil {
			return "", err
		}
		terms = append(terms, expr+" "+string(t.dir))
	}
	return "ORDER BY " + strings.Join(terms, ", "), nil
}

// Insert compiles a single row INSERT. With returning set, the primary key
// is read back through a RETURNING clause.
func (c *Compiler) Insert(meta *EntityMetadata, columns []string, returning bool) string {
	sb := &strings.Builder{}
	sb.WriteString("INSERT INTO ")
	sb.WriteString(c.q(meta.Table))
	sb.WriteString(" (")
	for i, col := range columns {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(c.q(col))
	}
	sb.WriteString(") VALUES (")
	for i := range columns {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('?')
	}
	sb.WriteByte(')')
	if returning {
		sb.WriteString(" RETURNING ")
		sb.WriteString(c.q(meta.PrimaryKey.Column))
	}
	return sb.String()
}

// Update compiles an UPDATE of columns keyed by the primary key, which is
// the last bound argument.
func (c *Compiler) Update(meta *EntityMetadata, columns []string) string {
	sb := &strings.Builder{}
	sb.WriteString("UPDATE ")
	sb.WriteString(c.q(meta.Table))
	sb.WriteString(" SET ")
	for i, col := range columns {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(c.q(col))
		sb.WriteString(" = ?")
	}
	sb.WriteString(" WHERE ")
	sb.WriteString(c.q(meta.PrimaryKey.Column))
	sb.WriteString(" = ?")
	return sb.String()
}

// Delete compiles a DELETE keyed by the primary key.
func (c *Compiler) Delete(meta *EntityMetadata) string {
	return "DELETE FROM " + c.q(meta.Table) + " WHERE " + c.q(meta.PrimaryKey.Column) + " = ?"
}
