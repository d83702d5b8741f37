package graphorm

import (
	"reflect"
	"slices"
)

// Operator is a comparison operator accepted in a predicate.
type Operator string

const (
	Eq      Operator = "="
	NotEq   Operator = "!="
	Gt      Operator = ">"
	Lt      Operator = "<"
	Gte     Operator = ">="
	Lte     Operator = "<="
	Between Operator = "BETWEEN"
	In      Operator = "IN"
	NotIn   Operator = "NOT IN"
)

var operators = []Operator{Eq, NotEq, Gt, Lt, Gte, Lte, Between, In, NotIn}

// Predicate filters on one property of an entity. Owner and Field name the
// struct type and field; with Exact set, Field is a raw column of the root
// table instead.
type Predicate struct {
	Owner reflect.Type
	Field string
	Op    Operator
	Value any
	Exact bool
}

// PredicateGroup is a conjunction of predicates. A query ORs its groups.
// Groups are values: And returns a new group and leaves the receiver as is.
type PredicateGroup struct {
	preds []Predicate
	err   error
}

// Where starts a group with a single predicate. An unsupported operator
// or a malformed BETWEEN operand is recorded on the returned group; check
// Err before handing the group to a query.
func Where(owner reflect.Type, field string, op Operator, value any) PredicateGroup {
	return PredicateGroup{}.And(owner, field, op, value)
}

// WhereExact starts a group with a predicate on a raw root column.
func WhereExact(column string, op Operator, value any) PredicateGroup {
	return PredicateGroup{}.AndExact(column, op, value)
}

// And appends a predicate on owner.field. Like Where, it never fails
// itself: the first invalid predicate is reported by Err.
func (g PredicateGroup) And(owner reflect.Type, field string, op Operator, value any) PredicateGroup {
	return g.with(Predicate{Owner: indirectType(owner), Field: field, Op: op, Value: value})
}

// AndExact appends a predicate on a raw column of the root table.
func (g PredicateGroup) AndExact(column string, op Operator, value any) PredicateGroup {
	return g.with(Predicate{Field: column, Op: op, Value: value, Exact: true})
}

func (g PredicateGroup) with(p Predicate) PredicateGroup {
	next := PredicateGroup{preds: append(slices.Clone(g.preds), p), err: g.err}
	if next.err == nil {
		next.err = validatePredicate(p)
	}
	return next
}

// Predicates returns a copy of the group's predicates.
func (g PredicateGroup) Predicates() []Predicate {
	return slices.Clone(g.preds)
}

// Err returns the first construction error of the group.
func (g PredicateGroup) Err() error {
	return g.err
}

func validatePredicate(p Predicate) error {
	if !slices.Contains(operators, p.Op) {
		return &UnsupportedOperationError{Kind: "operator", Value: string(p.Op)}
	}
	if p.Op == Between {
		v := reflect.ValueOf(p.Value)
		if (v.Kind() != reflect.Slice && v.Kind() != reflect.Array) || v.Len() != 2 {
			return &UnsupportedOperationError{Kind: "operand", Value: "BETWEEN expects two bounds"}
		}
	}
	return nil
}

// Direction is a sort direction.
type Direction string

const (
	Asc  Direction = "ASC"
	Desc Direction = "DESC"
)

type orderTerm struct {
	owner reflect.Type
	field string
	dir   Direction
}

// Order is an ordered list of sort terms. Like PredicateGroup it is a value.
type Order struct {
	terms []orderTerm
	err   error
}

// OrderBy starts an order on owner.field.
func OrderBy(owner reflect.Type, field string, dir Direction) Order {
	return Order{}.Then(owner, field, dir)
}

// Then appends a sort term.
func (o Order) Then(owner reflect.Type, field string, dir Direction) Order {
	next := Order{terms: append(slices.Clone(o.terms), orderTerm{owner: indirectType(owner), field: field, dir: dir}), err: o.err}
	if next.err == nil && dir != Asc && dir != Desc {
		next.err = &UnsupportedOperationError{Kind: "direction", Value: string(dir)}
	}
	return next
}

// Err returns the first construction error of the order.
func (o Order) Err() error {
	return o.err
}

// IsZero reports whether the order has no terms.
func (o Order) IsZero() bool {
	return len(o.terms) == 0
}
