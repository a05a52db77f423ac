package vtype

import (
	"fmt"
	"strings"
	"unicode"
)

// PrimitiveType is one of the eight scalar field types §3 recognizes.
type PrimitiveType string

const (
	TString   PrimitiveType = "string"
	TNumber   PrimitiveType = "number"
	TBoolean  PrimitiveType = "boolean"
	TDate     PrimitiveType = "date"
	TDateTime PrimitiveType = "datetime"
	TJSON     PrimitiveType = "json"
	TMarkdown PrimitiveType = "markdown"
	TURL      PrimitiveType = "url"
)

var primitiveNames = map[string]PrimitiveType{
	string(TString):   TString,
	string(TNumber):   TNumber,
	string(TBoolean):  TBoolean,
	string(TDate):     TDate,
	string(TDateTime): TDateTime,
	string(TJSON):     TJSON,
	string(TMarkdown): TMarkdown,
	string(TURL):      TURL,
}

// IsPrimitive reports whether name is one of the eight recognized scalar
// types; name must already have its '?'/'[]' decorations stripped.
func IsPrimitive(name string) bool {
	_, ok := primitiveNames[name]
	return ok
}

// FieldSpec is the result of parsing one field-definition string (or
// one-element array-literal), before it is attached to an entity and before
// backref synthesis (schema.ParsedField wraps this with that context).
type FieldSpec struct {
	IsOptional bool
	IsArray    bool
	IsRelation bool

	Primitive PrimitiveType // set iff !IsRelation

	Prompt string // generation prompt text, if any

	RelatedType string
	Backref     string
	UnionTypes  []string

	Operator  Operator // "" for the implicit-backref legacy relation form
	Direction Direction
	MatchMode MatchMode
	Threshold *float64
}

// ParseField parses a single field definition, which is either a string or
// a one-element sequence of strings (the array-literal form, §4.1 last
// paragraph: "recurse on the inner string and then set isArray=true").
func ParseField(def any) (FieldSpec, error) {
	switch v := def.(type) {
	case string:
		return parseFieldString(v)
	case []string:
		if len(v) != 1 {
			return FieldSpec{}, fmt.Errorf("vtype: array-literal field definition must have exactly one element, got %d", len(v))
		}
		spec, err := parseFieldString(v[0])
		if err != nil {
			return FieldSpec{}, err
		}
		spec.IsArray = true
		return spec, nil
	default:
		return FieldSpec{}, fmt.Errorf("vtype: field definition must be a string or []string, got %T", def)
	}
}

func parseFieldString(raw string) (FieldSpec, error) {
	if op := ParseOperator(raw); op != nil {
		targetType, isOptional, isArray := stripDecorations(op.TargetType)
		relatedType, backref := splitBackref(targetType)

		union := op.UnionTypes
		if len(union) > 0 {
			union = append([]string(nil), union...)
			for i, u := range union {
				clean, _, _ := stripDecorations(u)
				union[i] = clean
			}
			union[0] = relatedType
		}

		return FieldSpec{
			IsOptional:  isOptional,
			IsArray:     isArray,
			IsRelation:  true,
			Prompt:      op.Prompt,
			RelatedType: relatedType,
			Backref:     backref,
			UnionTypes:  union,
			Operator:    op.Operator,
			Direction:   op.Direction,
			MatchMode:   op.MatchMode,
			Threshold:   op.Threshold,
		}, nil
	}

	trimmed := strings.TrimSpace(raw)

	if strings.ContainsAny(trimmed, " \t\n") {
		// "a string containing a space is never a relation" (§4.1 edge cases):
		// this is a primitive field carrying a generation prompt, e.g.
		// "string (write a catchy title)".
		return parsePrimitivePrompt(trimmed)
	}

	bare, isOptional, isArray := stripDecorations(trimmed)

	if IsPrimitive(bare) {
		return FieldSpec{
			IsOptional: isOptional,
			IsArray:    isArray,
			Primitive:  primitiveNames[bare],
		}, nil
	}

	// A PascalCase single word that is not a primitive is the
	// implicit-backref legacy relation form: no explicit operator, but
	// still a relation (treated as forward/exact by downstream resolution).
	relatedType, backref := splitBackref(bare)
	if !isPascalWord(relatedType) {
		return FieldSpec{}, fmt.Errorf("vtype: %q is neither a primitive type nor a PascalCase relation target", raw)
	}

	return FieldSpec{
		IsOptional:  isOptional,
		IsArray:     isArray,
		IsRelation:  true,
		RelatedType: relatedType,
		Backref:     backref,
		Direction:   Forward,
		MatchMode:   Exact,
	}, nil
}

// parsePrimitivePrompt handles "<type> (<prompt>)" and bare "<type> <prompt
// words...>" forms for generated scalar fields.
func parsePrimitivePrompt(trimmed string) (FieldSpec, error) {
	head, rest, _ := strings.Cut(trimmed, " ")
	bare, isOptional, isArray := stripDecorations(head)

	prompt := strings.TrimSpace(rest)
	prompt = strings.TrimPrefix(prompt, "(")
	prompt = strings.TrimSuffix(prompt, ")")
	prompt = strings.TrimSpace(prompt)

	prim, ok := primitiveNames[bare]
	if !ok {
		// Defaults to string when the leading token isn't a recognized
		// primitive; the whole definition is then the prompt. This keeps
		// loosely-written schemas (a bare natural-language field) usable
		// rather than rejecting them.
		prim = TString
		prompt = trimmed
		isOptional, isArray = false, false
	}

	return FieldSpec{
		IsOptional: isOptional,
		IsArray:    isArray,
		Primitive:  prim,
		Prompt:     prompt,
	}, nil
}

// stripDecorations removes a trailing '?' (optional) and/or '[]' (array)
// from s, in either order, and reports which were present.
func stripDecorations(s string) (bare string, isOptional, isArray bool) {
	bare = strings.TrimSpace(s)
	for {
		switch {
		case strings.HasSuffix(bare, "?"):
			isOptional = true
			bare = strings.TrimSuffix(bare, "?")
		case strings.HasSuffix(bare, "[]"):
			isArray = true
			bare = strings.TrimSuffix(bare, "[]")
		default:
			return bare, isOptional, isArray
		}
	}
}

// splitBackref splits "Type.backref" into ("Type", "backref"); a bare
// "Type" returns an empty backref.
func splitBackref(s string) (relatedType, backref string) {
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return s[:i], s[i+1:]
	}
	return s, ""
}

// isPascalWord reports whether s looks like a bare "Type" (the backref part
// already split off): starts with an uppercase letter, contains only
// letters/digits.
func isPascalWord(s string) bool {
	if s == "" {
		return false
	}
	r := []rune(s)
	if !unicode.IsUpper(r[0]) {
		return false
	}
	for _, c := range r {
		if !unicode.IsLetter(c) && !unicode.IsDigit(c) {
			return false
		}
	}
	return true
}
