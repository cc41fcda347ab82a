package codec

import (
	"fmt"
	"sort"
	"strings"
)

// Variant is the dynamic value of a non-flat enum or an error: the variant
// name plus its fields by name. Fieldless variants have nil Fields.
type Variant struct {
	Fields map[string]any `json:"fields,omitempty"`
	Name   string         `json:"variant"`
}

func (v Variant) String() string {
	if len(v.Fields) == 0 {
		return v.Name
	}
	keys := make([]string, 0, len(v.Fields))
	for k := range v.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s: %v", k, v.Fields[k])
	}
	return v.Name + "{" + strings.Join(parts, ", ") + "}"
}

// variantFrom accepts the shapes a dynamic caller may use for an enum
// value: a Variant, a bare variant name, or a decoded JSON object
// {"variant": name, "fields": {...}}.
func variantFrom(v any) (Variant, bool) {
	switch x := v.(type) {
	case Variant:
		return x, true
	case *Variant:
		if x == nil {
			return Variant{}, false
		}
		return *x, true
	case string:
		return Variant{Name: x}, true
	case map[string]any:
		name, ok := x["variant"].(string)
		if !ok {
			return Variant{}, false
		}
		for k := range x {
			if k != "variant" && k != "fields" {
				return Variant{}, false
			}
		}
		out := Variant{Name: name}
		if f, present := x["fields"]; present && f != nil {
			fields, ok := f.(map[string]any)
			if !ok {
				return Variant{}, false
			}
			out.Fields = fields
		}
		return out, true
	}
	return Variant{}, false
}
