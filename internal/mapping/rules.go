// Package mapping applies configurable field-transformation rules to raw
// intake payloads, producing the normalized job fields the external ERP
// expects. Rules are read-mostly configuration; all business validation of
// required fields happens here so the pipeline can classify missing data as
// terminal before any external call is made.
package mapping

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"fieldserve_backend/platform/apperr"
)

// Transform identifies a value transformation applied by a rule.
type Transform string

const (
	TransformNone      Transform = ""
	TransformTrim      Transform = "trim"
	TransformLowercase Transform = "lowercase"
	TransformUppercase Transform = "uppercase"
	TransformTitlecase Transform = "titlecase"
	TransformNumber    Transform = "number"
)

// Rule maps one raw intake field to one normalized job field.
type Rule struct {
	SourceField string
	TargetField string
	Transform   Transform
	Required    bool
}

// RuleSet is the ordered rule collection for one intake source.
type RuleSet struct {
	Source string
	Rules  []Rule
}

// Apply transforms raw into the normalized field map. Missing required
// target fields produce a single apperr.Validation error listing every
// missing field; transformation is not attempted beyond that point.
//
// Apply is idempotent: every transform maps its own output to itself, so
// re-applying a rule set to an already-mapped payload is a no-op.
func Apply(set RuleSet, raw map[string]string) (map[string]string, error) {
	mapped := make(map[string]string, len(set.Rules))
	var missing []string

	for _, rule := range set.Rules {
		value, ok := raw[rule.SourceField]
		if !ok {
			// Allow re-application: accept a value already under the
			// target name.
			value = raw[rule.TargetField]
		}

		transformed, err := applyTransform(rule.Transform, value)
		if err != nil {
			return nil, apperr.Validation(
				fmt.Sprintf("field %q: %v", rule.SourceField, err),
			).WithDetails(map[string]string{rule.SourceField: value})
		}

		if transformed == "" {
			if rule.Required {
				missing = append(missing, rule.TargetField)
			}
			continue
		}
		mapped[rule.TargetField] = transformed
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, apperr.Validation(
			"missing required fields: "+strings.Join(missing, ", "),
		).WithDetails(map[string][]string{"missingFields": missing})
	}

	return mapped, nil
}

func applyTransform(t Transform, value string) (string, error) {
	trimmed := strings.TrimSpace(value)

	switch t {
	case TransformNone, TransformTrim:
		return trimmed, nil
	case TransformLowercase:
		return strings.ToLower(trimmed), nil
	case TransformUppercase:
		return strings.ToUpper(trimmed), nil
	case TransformTitlecase:
		return titleCase(trimmed), nil
	case TransformNumber:
		if trimmed == "" {
			return "", nil
		}
		normalized := strings.ReplaceAll(trimmed, ",", ".")
		parsed, err := strconv.ParseFloat(normalized, 64)
		if err != nil {
			return "", fmt.Errorf("not a number: %q", value)
		}
		return strconv.FormatFloat(parsed, 'f', -1, 64), nil
	default:
		return "", fmt.Errorf("unknown transform %q", t)
	}
}

// titleCase upper-cases the first rune of each space-separated word and
// lower-cases the rest. Deliberately ASCII-simple; intake fields are names
// and city fields, not prose.
func titleCase(value string) string {
	words := strings.Fields(strings.ToLower(value))
	for i, word := range words {
		runes := []rune(word)
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}
