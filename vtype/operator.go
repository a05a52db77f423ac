// Package vtype holds the small, dependency-free vocabulary every other
// vertex package builds on: the four relationship operator tokens, the
// primitive scalar types, and the string-level parsers that turn a single
// field-definition string into a structured description.
//
// Nothing here talks to a Provider or a Generator; it is pure text
// processing, kept stdlib-only so every downstream package can depend on it
// without pulling in storage or AI libraries.
package vtype

import (
	"regexp"
	"strconv"
	"strings"
)

// Operator is one of the four relationship tokens recognized inside a field
// definition string.
type Operator string

// The four relationship operators, in the scan-priority order used by
// ParseOperator. All four are two-character tokens; priority only matters
// as a tiebreak, since no two of them can start at the same string index.
const (
	OpForwardFuzzy   Operator = "~>"
	OpBackwardFuzzy  Operator = "<~"
	OpForwardExact   Operator = "->"
	OpBackwardExact  Operator = "<-"
	noOperator       Operator = ""
)

// Direction is the edge direction implied by an operator.
type Direction string

const (
	Forward  Direction = "forward"
	Backward Direction = "backward"
)

// MatchMode is how a relationship's target is bound.
type MatchMode string

const (
	Exact MatchMode = "exact"
	Fuzzy MatchMode = "fuzzy"
)

type operatorSpec struct {
	token Operator
	dir   Direction
	mode  MatchMode
}

// scanOrder is the priority order §4.1 step 1 specifies: "the two-character
// tokens take precedence over the one-character forms; check in the listed
// order." All four vertex operators are two characters, so this ordering
// only ever breaks a tie at the same scan index, which cannot occur since
// the tokens are pairwise distinct two-character strings.
var scanOrder = []operatorSpec{
	{OpForwardFuzzy, Forward, Fuzzy},
	{OpBackwardFuzzy, Backward, Fuzzy},
	{OpForwardExact, Forward, Exact},
	{OpBackwardExact, Backward, Exact},
}

// OperatorInfo is the parsed result of scanning a field-definition string
// for a relationship operator.
type OperatorInfo struct {
	Prompt     string
	Operator   Operator
	Direction  Direction
	MatchMode  MatchMode
	TargetType string
	UnionTypes []string // nil unless the target is a pipe-union of length > 1
	Threshold  *float64
}

// trailingThreshold matches a well-formed "(<decimal>)" suffix.
var trailingThreshold = regexp.MustCompile(`\(([^()]*)\)\s*$`)

// ParseOperator scans def for the earliest occurrence of a relationship
// operator and, if found, splits the string into prompt/target/threshold
// per spec §4.1. It returns nil if def carries no relationship operator.
func ParseOperator(def string) *OperatorInfo {
	idx, spec, ok := findOperator(def)
	if !ok {
		return nil
	}

	prompt := strings.TrimSpace(def[:idx])
	raw := strings.TrimSpace(def[idx+len(spec.token):])

	threshold, raw := extractThreshold(raw)

	targetType, unionTypes := splitUnion(raw)

	return &OperatorInfo{
		Prompt:     prompt,
		Operator:   spec.token,
		Direction:  spec.dir,
		MatchMode:  spec.mode,
		TargetType: targetType,
		UnionTypes: unionTypes,
		Threshold:  threshold,
	}
}

// findOperator returns the index and spec of the earliest operator token in
// def, scanning left to right.
func findOperator(def string) (int, operatorSpec, bool) {
	for i := 0; i+2 <= len(def); i++ {
		window := def[i : i+2]
		for _, spec := range scanOrder {
			if window == string(spec.token) {
				return i, spec, true
			}
		}
	}
	return -1, operatorSpec{}, false
}

// extractThreshold strips a trailing "(<decimal>)" suffix from raw, or a
// malformed "(<anything>" with a missing closing paren. Either way the
// remainder of raw has the suffix removed; a malformed or non-numeric
// threshold is simply treated as absent (nil).
func extractThreshold(raw string) (*float64, string) {
	if m := trailingThreshold.FindStringSubmatch(raw); m != nil {
		rest := strings.TrimSpace(raw[:len(raw)-len(m[0])])
		if v, err := strconv.ParseFloat(strings.TrimSpace(m[1]), 64); err == nil {
			return &v, rest
		}
		return nil, rest
	}

	if i := strings.IndexByte(raw, '('); i >= 0 {
		return nil, strings.TrimSpace(raw[:i])
	}

	return nil, raw
}

// splitUnion splits raw on '|' into a target type and, when there's more
// than one element, the full union list.
func splitUnion(raw string) (string, []string) {
	parts := strings.Split(raw, "|")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if len(parts) > 1 {
		return parts[0], parts
	}
	return parts[0], nil
}
