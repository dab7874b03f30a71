package envelope

import (
	"strconv"
	"strings"

	"github.com/ledgerwatch/buildcalc/condition"
	"github.com/ledgerwatch/buildcalc/errkind"
	"github.com/ledgerwatch/buildcalc/tagset"
)

// parsePredicate compiles a ConditionEnvelope's textual expression into an
// Arena + NodeID. The grammar is deliberately small (spec.md §4.3 defines the
// node kinds, not a surface syntax, so this is the host-facing convention):
//
//	always
//	flag:<name>            not_flag:<name>
//	tag:<name>              not_tag:<name>
//	stacks:<name><op><n>    cmp:<name><op><n>          op ∈ {<,<=,==,>=,>,!=}
//	and(expr, expr, ...)    or(expr, expr, ...)    not(expr)
func parsePredicate(registry *tagset.Registry, expr string) (*condition.Arena, condition.NodeID, error) {
	arena := condition.NewArena()
	root, err := parseNode(arena, registry, strings.TrimSpace(expr))
	if err != nil {
		return nil, 0, err
	}
	return arena, root, nil
}

func parseNode(arena *condition.Arena, registry *tagset.Registry, expr string) (condition.NodeID, error) {
	expr = strings.TrimSpace(expr)
	switch {
	case expr == "" || expr == "always":
		return arena.Always(), nil
	case strings.HasPrefix(expr, "not_flag:"):
		return arena.Not(arena.Flag(strings.TrimPrefix(expr, "not_flag:"))), nil
	case strings.HasPrefix(expr, "flag:"):
		return arena.Flag(strings.TrimPrefix(expr, "flag:")), nil
	case strings.HasPrefix(expr, "not_tag:"):
		id, err := internTag(registry, strings.TrimPrefix(expr, "not_tag:"))
		if err != nil {
			return 0, err
		}
		return arena.Not(arena.HasTag(id)), nil
	case strings.HasPrefix(expr, "tag:"):
		id, err := internTag(registry, strings.TrimPrefix(expr, "tag:"))
		if err != nil {
			return 0, err
		}
		return arena.HasTag(id), nil
	case strings.HasPrefix(expr, "stacks:"):
		return parseStacks(arena, strings.TrimPrefix(expr, "stacks:"))
	case strings.HasPrefix(expr, "cmp:"):
		return parseCompare(arena, strings.TrimPrefix(expr, "cmp:"))
	case strings.HasPrefix(expr, "and(") && strings.HasSuffix(expr, ")"):
		return parseCombinator(arena, registry, expr[len("and("):len(expr)-1], arena.And)
	case strings.HasPrefix(expr, "or(") && strings.HasSuffix(expr, ")"):
		return parseCombinator(arena, registry, expr[len("or("):len(expr)-1], arena.Or)
	case strings.HasPrefix(expr, "not(") && strings.HasSuffix(expr, ")"):
		inner := expr[len("not("):len(expr)-1]
		child, err := parseNode(arena, registry, inner)
		if err != nil {
			return 0, err
		}
		return arena.Not(child), nil
	default:
		return 0, errkind.New(errkind.InputValidation, "unrecognized predicate expression "+expr)
	}
}

func parseCombinator(arena *condition.Arena, registry *tagset.Registry, body string, ctor func(...condition.NodeID) condition.NodeID) (condition.NodeID, error) {
	parts := splitTopLevel(body)
	children := make([]condition.NodeID, 0, len(parts))
	for _, p := range parts {
		id, err := parseNode(arena, registry, p)
		if err != nil {
			return 0, err
		}
		children = append(children, id)
	}
	return ctor(children...), nil
}

// splitTopLevel splits body on commas that are not nested inside parens.
func splitTopLevel(body string) []string {
	var parts []string
	depth := 0
	start := 0
	for i, r := range body {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, body[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, body[start:])
	return parts
}

var compareOps = []struct {
	token string
	op    condition.CompareOp
}{
	{"<=", condition.OpLE},
	{">=", condition.OpGE},
	{"==", condition.OpEQ},
	{"!=", condition.OpNE},
	{"<", condition.OpLT},
	{">", condition.OpGT},
}

func parseStacks(arena *condition.Arena, rest string) (condition.NodeID, error) {
	name, op, n, err := splitComparison(rest)
	if err != nil {
		return 0, err
	}
	return arena.MechanicStacks(name, op, n), nil
}

func parseCompare(arena *condition.Arena, rest string) (condition.NodeID, error) {
	name, op, n, err := splitComparison(rest)
	if err != nil {
		return 0, err
	}
	return arena.Compare(op, arena.Value(name), arena.Literal(n)), nil
}

func splitComparison(rest string) (name string, op condition.CompareOp, n float64, err error) {
	for _, c := range compareOps {
		if idx := strings.Index(rest, c.token); idx >= 0 {
			name = rest[:idx]
			valStr := rest[idx+len(c.token):]
			v, perr := strconv.ParseFloat(valStr, 64)
			if perr != nil {
				return "", 0, 0, errkind.Wrap(errkind.InputValidation, perr, "invalid comparison value in "+rest)
			}
			return name, c.op, v, nil
		}
	}
	return "", 0, 0, errkind.New(errkind.InputValidation, "missing comparison operator in "+rest)
}

func internTag(registry *tagset.Registry, name string) (tagset.ID, error) {
	id, err := registry.Intern(name)
	if err != nil {
		return 0, errkind.Wrap(errkind.TagUnknown, err, "unknown tag "+name)
	}
	return id, nil
}
