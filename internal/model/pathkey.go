package model

import (
	"fmt"
	"strings"
)

// Path identifier delimiters. The ancestor chain (root, organization,
// clinical grouping) is joined with AncestorSep; the drug sequence at
// levels 3+ is joined with SequenceSep. Standardized drug names must not
// contain either character, and organization/grouping labels must not
// contain AncestorSep — record validation enforces both.
const (
	AncestorSep = "|"
	SequenceSep = ">"

	// RootSegment is the first segment of every path identifier, so the
	// root node has a stable non-empty key.
	RootSegment = "all"

	// RootLabel is the display label of the level-0 node.
	RootLabel = "All organizations"
)

// PathKey identifies one node in the pathway hierarchy. It is a value type
// wrapping the ordered ancestor segments; the zero value is the root.
//
// Levels: 0 = root, 1 = organization, 2 = clinical grouping, 3 = first drug
// line, 4+ = each additional drug line in sequence order.
type PathKey struct {
	Org      string
	Grouping string
	Drugs    []string
}

// Level returns the hierarchy level this key addresses.
func (k PathKey) Level() int {
	switch {
	case len(k.Drugs) > 0:
		return 2 + len(k.Drugs)
	case k.Grouping != "":
		return 2
	case k.Org != "":
		return 1
	default:
		return 0
	}
}

// Encode renders the key as a path identifier string, e.g.
// "all|RX1|Cardiology|amlodipine>losartan".
func (k PathKey) Encode() string {
	var b strings.Builder
	b.WriteString(RootSegment)
	if k.Org == "" {
		return b.String()
	}
	b.WriteString(AncestorSep)
	b.WriteString(k.Org)
	if k.Grouping == "" {
		return b.String()
	}
	b.WriteString(AncestorSep)
	b.WriteString(k.Grouping)
	if len(k.Drugs) == 0 {
		return b.String()
	}
	b.WriteString(AncestorSep)
	b.WriteString(strings.Join(k.Drugs, SequenceSep))
	return b.String()
}

// DecodePathKey parses a path identifier produced by Encode. The drug
// sequence round-trips in order, so a level-4+ identifier losslessly
// reconstructs the patient drug sequence it was built from.
func DecodePathKey(s string) (PathKey, error) {
	parts := strings.Split(s, AncestorSep)
	if parts[0] != RootSegment {
		return PathKey{}, fmt.Errorf("path %q: missing %q root segment", s, RootSegment)
	}
	if len(parts) > 4 {
		return PathKey{}, fmt.Errorf("path %q: too many segments", s)
	}
	var k PathKey
	if len(parts) > 1 {
		k.Org = parts[1]
	}
	if len(parts) > 2 {
		k.Grouping = parts[2]
	}
	if len(parts) > 3 {
		if parts[3] == "" {
			return PathKey{}, fmt.Errorf("path %q: empty drug sequence", s)
		}
		k.Drugs = strings.Split(parts[3], SequenceSep)
	}
	for i, p := range parts[1:] {
		if p == "" {
			return PathKey{}, fmt.Errorf("path %q: empty segment %d", s, i+1)
		}
	}
	return k, nil
}

// Parent returns the key one level up and false when called on the root.
func (k PathKey) Parent() (PathKey, bool) {
	switch {
	case len(k.Drugs) > 1:
		return PathKey{Org: k.Org, Grouping: k.Grouping, Drugs: k.Drugs[:len(k.Drugs)-1]}, true
	case len(k.Drugs) == 1:
		return PathKey{Org: k.Org, Grouping: k.Grouping}, true
	case k.Grouping != "":
		return PathKey{Org: k.Org}, true
	case k.Org != "":
		return PathKey{}, true
	default:
		return PathKey{}, false
	}
}

// Label returns the display label for the node this key addresses: the last
// drug line for level-3+ nodes, otherwise the grouping, organization, or
// root label.
func (k PathKey) Label() string {
	switch {
	case len(k.Drugs) > 0:
		return k.Drugs[len(k.Drugs)-1]
	case k.Grouping != "":
		return k.Grouping
	case k.Org != "":
		return k.Org
	default:
		return RootLabel
	}
}
