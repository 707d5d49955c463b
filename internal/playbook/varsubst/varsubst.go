// Package varsubst implements the ${NAME} variable-substitution rule shared
// by the playbook engine and its step executors (spec.md §4.3): a name is
// looked up in the merge of context then parameters (parameters win); a
// name with no match is left as the literal placeholder; the substitution
// recurses over mappings and sequences, leaving non-string leaves
// untouched. This is distinct from and composes with internal/secrets'
// ${secrets.NAME} substitution, which runs afterward.
package varsubst

import "regexp"

var pattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Substitute replaces ${NAME} references in value. Supported shapes: string,
// map[string]interface{}, map[string]string, []interface{}; anything else
// is returned unchanged.
func Substitute(value interface{}, context map[string]string, parameters map[string]string) interface{} {
	merged := make(map[string]string, len(context)+len(parameters))
	for k, v := range context {
		merged[k] = v
	}
	for k, v := range parameters {
		merged[k] = v
	}
	return substitute(value, merged)
}

func substitute(value interface{}, merged map[string]string) interface{} {
	switch v := value.(type) {
	case string:
		return pattern.ReplaceAllStringFunc(v, func(match string) string {
			name := pattern.FindStringSubmatch(match)[1]
			if replacement, ok := merged[name]; ok {
				return replacement
			}
			return match
		})
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			out[k] = substitute(item, merged)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(v))
		for k, item := range v {
			out[k] = substitute(item, merged).(string)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = substitute(item, merged)
		}
		return out
	default:
		return value
	}
}

// String is the common case of substituting into a single string value.
func String(value string, context map[string]string, parameters map[string]string) string {
	return Substitute(value, context, parameters).(string)
}
