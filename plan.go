package graphorm

import (
	"reflect"
	"slices"
	"strconv"
	"strings"
)

// PlanNode is one aliased table of a join plan.
type PlanNode struct {
	Meta     *EntityMetadata
	Alias    string
	Parent   *PlanNode
	Via      *RelationDescriptor // relation on Parent.Meta leading here, nil for the root
	Nullable bool
	Depth    int

	pos int
}

// JoinKey returns the column of this node used in its ON clause.
func (n *PlanNode) JoinKey() (alias, column string) {
	if n.Via.Owning() {
		return n.Alias, n.Via.JoinColumn
	}
	return n.Alias, n.Meta.PrimaryKey.Column
}

// ParentKey returns the parent column this node is joined to.
func (n *PlanNode) ParentKey() (alias, column string) {
	if n.Via.Owning() {
		return n.Parent.Alias, n.Parent.Meta.PrimaryKey.Column
	}
	return n.Parent.Alias, n.Via.Column
}

// ManyLink is a one-to-many relation resolved by a follow-up query per row.
type ManyLink struct {
	Node     *PlanNode
	Relation *RelationDescriptor
}

// ParentLink is an eager one-to-one relation that points back up the graph.
// It is not joined: after hydration the relation field of Node's instance
// is set to the instance of Ancestor. A nil Ancestor means the target is a
// guarded caller type, which the caller wires itself.
type ParentLink struct {
	Node     *PlanNode
	Relation *RelationDescriptor
	Ancestor *PlanNode
}

// JoinPlan is the aliased table graph of a select rooted at one entity.
// Nodes are in pre-order: every node precedes the nodes joined through it.
type JoinPlan struct {
	Root     *PlanNode
	Nodes    []*PlanNode
	Many     []ManyLink
	Deferred []ParentLink
	Guard    []reflect.Type
}

// Joins returns the joined nodes, root excluded.
func (p *JoinPlan) Joins() []*PlanNode {
	return p.Nodes[1:]
}

// NodeFor returns the first node mapping owner.
func (p *JoinPlan) NodeFor(owner reflect.Type) (*PlanNode, bool) {
	for _, n := range p.Nodes {
		if n.Meta.Type == owner {
			return n, true
		}
	}
	return nil, false
}

// BuildPlan walks the eager one-to-one relations of root. Relations whose
// target is already on the current path, or is one of the guard types, are
// recorded as deferred parent links instead of being joined; one-to-many
// relations towards such types are skipped. A relation of an entity to its
// own type is joined one level deep and left unset below that.
func BuildPlan(reg *Registry, root reflect.Type, guard ...reflect.Type) (*JoinPlan, error) {
	root = indirectType(root)
	return reg.plans.loadOrBuild(reg.plans.key(root, guard), func() (*JoinPlan, error) {
		meta, err := reg.Resolve(root)
		if err != nil {
			return nil, err
		}

		p := &JoinPlan{Guard: slices.Clone(guard)}
		p.Root = p.add(meta, nil, nil)
		if err := p.walk(reg, p.Root, make(map[reflect.Type]*PlanNode)); err != nil {
			return nil, err
		}
		return p, nil
	})
}

func (p *JoinPlan) add(meta *EntityMetadata, parent *PlanNode, via *RelationDescriptor) *PlanNode {
	n := &PlanNode{
		Meta:   meta,
		Alias:  aliasFor(meta.Table, len(p.Nodes)),
		Parent: parent,
		Via:    via,
		pos:    len(p.Nodes),
	}
	if parent != nil {
		n.Depth = parent.Depth + 1
		// an optional parent makes everything below it optional too
		n.Nullable = via.Nullable || parent.Nullable
	}
	p.Nodes = append(p.Nodes, n)
	return n
}

func (p *JoinPlan) walk(reg *Registry, node *PlanNode, path map[reflect.Type]*PlanNode) error {
	typ := node.Meta.Type
	prev, had := path[typ]
	path[typ] = node
	defer func() {
		if had {
			path[typ] = prev
		} else {
			delete(path, typ)
		}
	}()

	for _, rel := range node.Meta.Relations {
		_, onPath := path[rel.Target]
		guarded := slices.Contains(p.Guard, rel.Target)

		switch rel.Kind {
		case RelationOneToMany:
			if !onPath && !guarded {
				p.Many = append(p.Many, ManyLink{Node: node, Relation: rel})
			}

		case RelationOneToOneEager:
			if onPath {
				if path[rel.Target] == node {
					// self reference: joined one level, unset below it
					selfJoined := node.Parent != nil && node.Parent.Meta == node.Meta
					if !selfJoined && !guarded {
						if err := p.walk(reg, p.add(node.Meta, node, rel), path); err != nil {
							return err
						}
					}
					continue
				}
				p.Deferred = append(p.Deferred, ParentLink{Node: node, Relation: rel, Ancestor: path[rel.Target]})
				continue
			}
			if guarded {
				p.Deferred = append(p.Deferred, ParentLink{Node: node, Relation: rel})
				continue
			}

			target, err := reg.Resolve(rel.Target)
			if err != nil {
				return err
			}
			child := p.add(target, node, rel)
			if err := p.walk(reg, child, path); err != nil {
				return err
			}
		}
	}
	return nil
}

func aliasFor(table string, index int) string {
	prefix := "t"
	if table != "" {
		prefix = strings.ToLower(table[:1])
	}
	return prefix + strconv.Itoa(index)
}
