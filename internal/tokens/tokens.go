// Package tokens discovers and substitutes %%NAME%% placeholders embedded in
// graph input values.
//
// Supported forms are %%NAME%%, %%NAME:KIND%% and %%NAME:KIND[args]%%. NAME is
// made of letters, digits and underscores. KIND defaults to "str"; bracketed
// arguments are accepted and ignored.
package tokens

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"comfyrun/pkg/models"
)

const pattern = `%%([A-Za-z0-9_]+)(?::([A-Za-z0-9_]+)(?:\[[^%]*\])?)?%%`

var (
	tokenRE = regexp.MustCompile(pattern)
	exactRE = regexp.MustCompile(`^` + pattern + `$`)
)

var multilineNames = map[string]bool{
	"prompt":          true,
	"prompt_1":        true,
	"prompt_2":        true,
	"negative_prompt": true,
	"neg_prompt":      true,
	"system":          true,
	"memory":          true,
	"notes":           true,
}

// Discover scans every string input of every node and returns one spec per
// token name, sorted by name. When a name appears with several kinds, the
// first occurrence in node id order then field name order wins. Node ids are
// ordered numerically, not by their position in the workflow file.
func Discover(g models.Graph) []models.TokenSpec {
	seen := make(map[string]models.TokenSpec)
	for _, id := range g.NodeIDs() {
		node := g[id]
		for _, key := range node.SortedInputKeys() {
			s, ok := node.Inputs[key].(string)
			if !ok {
				continue
			}
			for _, m := range tokenRE.FindAllStringSubmatch(s, -1) {
				name := m[1]
				if _, dup := seen[name]; dup {
					continue
				}
				spec := models.TokenSpec{Name: name, Raw: m[0], Kind: kindOf(m[2])}
				spec.Multiline = IsMultiline(spec)
				seen[name] = spec
			}
		}
	}

	specs := make([]models.TokenSpec, 0, len(seen))
	for _, spec := range seen {
		specs = append(specs, spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// Names returns the set of token names in specs.
func Names(specs []models.TokenSpec) map[string]bool {
	out := make(map[string]bool, len(specs))
	for _, s := range specs {
		out[s.Name] = true
	}
	return out
}

// Apply substitutes values into the graph in place.
//
// A field that is exactly one placeholder is replaced by the coerced value.
// Placeholders embedded in longer text are replaced by the value's string
// form. Placeholders whose name is missing from values are left verbatim.
func Apply(g models.Graph, values map[string]interface{}) {
	for _, node := range g {
		if node == nil {
			continue
		}
		for key, raw := range node.Inputs {
			s, ok := raw.(string)
			if !ok {
				continue
			}

			if m := exactRE.FindStringSubmatch(s); m != nil {
				if v, ok := values[m[1]]; ok {
					node.Inputs[key] = resolve(v, kindOf(m[2]))
				}
				continue
			}

			node.Inputs[key] = tokenRE.ReplaceAllStringFunc(s, func(match string) string {
				name := tokenRE.FindStringSubmatch(match)[1]
				v, ok := values[name]
				if !ok {
					return match
				}
				return fmt.Sprint(v)
			})
		}
	}
}

// Coerce converts a caller-supplied string to the placeholder kind. Numeric
// kinds fall back to the raw string when parsing fails or the float is not
// finite.
func Coerce(value string, kind models.TokenKind) interface{} {
	s := strings.TrimSpace(value)
	switch kind {
	case models.TokenKindInt:
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
		return s
	case models.TokenKindFloat:
		if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return f
		}
		return s
	default:
		return value
	}
}

// IsMultiline hints whether a front end should offer multi-line editing.
func IsMultiline(spec models.TokenSpec) bool {
	if spec.Kind == models.TokenKindML {
		return true
	}
	return multilineNames[strings.ToLower(spec.Name)]
}

func resolve(v interface{}, kind models.TokenKind) interface{} {
	if s, ok := v.(string); ok {
		return Coerce(s, kind)
	}
	return v
}

func kindOf(raw string) models.TokenKind {
	if raw == "" {
		return models.TokenKindStr
	}
	return models.TokenKind(strings.ToLower(raw))
}
