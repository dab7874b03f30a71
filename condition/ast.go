// Package condition implements the small predicate AST of spec.md §4.3:
// Flag, Value, Literal, Compare, HasTag, MechanicStacks, And, Or, Not, Always.
// Nodes live in a flat Arena addressed by index, per spec.md §9's guidance
// that "predicate ASTs are small, stackful, and best stored inline (arena +
// indices) to avoid pointer chasing".
package condition

import "github.com/ledgerwatch/buildcalc/tagset"

type NodeKind int

const (
	KindAlways NodeKind = iota
	KindFlag
	KindValue
	KindLiteral
	KindCompare
	KindHasTag
	KindMechanicStacks
	KindAnd
	KindOr
	KindNot
)

type CompareOp int

const (
	OpLT CompareOp = iota
	OpLE
	OpEQ
	OpGE
	OpGT
	OpNE
)

// NodeID indexes into an Arena.
type NodeID int

type Node struct {
	Kind NodeKind

	// Flag / Value / MechanicStacks
	Name string

	// Literal
	Literal float64

	// Compare / MechanicStacks
	Op CompareOp

	// Compare
	Lhs, Rhs NodeID

	// HasTag
	Tag tagset.ID

	// MechanicStacks
	N float64

	// And / Or / Not
	Children []NodeID
}

// Arena holds every node compiled for a single modifier store (or affix, or
// skill); nodes are never mutated after Compile returns, so an Arena can be
// shared freely across pipeline runs.
type Arena struct {
	nodes []Node
}

func NewArena() *Arena { return &Arena{} }

func (a *Arena) add(n Node) NodeID {
	a.nodes = append(a.nodes, n)
	return NodeID(len(a.nodes) - 1)
}

func (a *Arena) Always() NodeID { return a.add(Node{Kind: KindAlways}) }

func (a *Arena) Flag(name string) NodeID { return a.add(Node{Kind: KindFlag, Name: name}) }

func (a *Arena) Value(name string) NodeID { return a.add(Node{Kind: KindValue, Name: name}) }

func (a *Arena) Literal(v float64) NodeID { return a.add(Node{Kind: KindLiteral, Literal: v}) }

func (a *Arena) Compare(op CompareOp, lhs, rhs NodeID) NodeID {
	return a.add(Node{Kind: KindCompare, Op: op, Lhs: lhs, Rhs: rhs})
}

func (a *Arena) HasTag(id tagset.ID) NodeID { return a.add(Node{Kind: KindHasTag, Tag: id}) }

func (a *Arena) MechanicStacks(name string, op CompareOp, n float64) NodeID {
	return a.add(Node{Kind: KindMechanicStacks, Name: name, Op: op, N: n})
}

func (a *Arena) And(children ...NodeID) NodeID {
	return a.add(Node{Kind: KindAnd, Children: children})
}

func (a *Arena) Or(children ...NodeID) NodeID {
	return a.add(Node{Kind: KindOr, Children: children})
}

func (a *Arena) Not(child NodeID) NodeID {
	return a.add(Node{Kind: KindNot, Children: []NodeID{child}})
}

func (a *Arena) node(id NodeID) Node { return a.nodes[id] }
