package uast

import "github.com/archreview/archreview/pkg/uast/pkg/node"

// SemanticUnit is a named, line-bounded region of a parsed file suitable for
// chunking: a type, a type member, or — when a file declares no types — the
// whole top-level body.
type SemanticUnit struct {
	Name      string
	Kind      string
	StartLine int
	EndLine   int
}

// typeNodeKinds are UAST node types treated as a "type" for unit extraction.
var typeNodeKinds = map[node.Type]string{
	node.UASTClass:     "class",
	node.UASTStruct:    "struct",
	node.UASTInterface: "interface",
	node.UASTEnum:      "record",
}

// memberNodeKinds are UAST node types treated as "type member" units.
var memberNodeKinds = map[node.Type]string{
	node.UASTMethod:       "method",
	node.UASTFunction:     "method",
	node.UASTFunctionDecl: "method",
	node.UASTProperty:     "property",
	node.UASTField:        "field",
	node.UASTGetter:       "property",
	node.UASTSetter:       "property",
}

// ExtractSemanticUnits walks a parsed UAST tree and returns one unit per
// type found, each followed by one unit per member of that type. If the
// tree contains no types, a single "top-level" unit spanning the whole file
// is returned. fallbackName is used when a node carries no name (e.g. an
// anonymous type), and as the unit name for the top-level fallback.
func ExtractSemanticUnits(root *node.Node, fallbackName string) []SemanticUnit {
	if root == nil {
		return []SemanticUnit{topLevelUnit(nil, fallbackName)}
	}

	var units []SemanticUnit

	var walk func(n *node.Node)

	walk = func(n *node.Node) {
		if n == nil {
			return
		}

		if kind, ok := typeNodeKinds[n.Type]; ok {
			units = append(units, unitFromNode(n, kind, fallbackName))

			for _, child := range n.Children {
				if memberKind, isMember := memberNodeKinds[child.Type]; isMember {
					units = append(units, unitFromNode(child, memberKind, fallbackName))
				}
			}

			return
		}

		for _, child := range n.Children {
			walk(child)
		}
	}

	walk(root)

	if len(units) == 0 {
		units = append(units, topLevelUnit(root, fallbackName))
	}

	return units
}

func unitFromNode(n *node.Node, kind, fallbackName string) SemanticUnit {
	name := n.Token
	if name == "" {
		if v, ok := n.Props["name"]; ok && v != "" {
			name = v
		} else {
			name = fallbackName
		}
	}

	unit := SemanticUnit{Name: name, Kind: kind}
	if n.Pos != nil {
		unit.StartLine = int(n.Pos.StartLine)
		unit.EndLine = int(n.Pos.EndLine)
	}

	return unit
}

func topLevelUnit(root *node.Node, fallbackName string) SemanticUnit {
	unit := SemanticUnit{Name: fallbackName, Kind: "top-level", StartLine: 1}
	if root != nil && root.Pos != nil {
		unit.EndLine = int(root.Pos.EndLine)
	}

	return unit
}
