package steps

import (
	"sort"
	"strings"

	"github.com/rendis/taskweave/pkg/schema"
)

const describeIndent = "    "

// Describe renders the type shape of a step with the given kind and sample
// payload, e.g.
//
//	{
//	    gt: [
//	        number,
//	        number
//	    ]
//	}
//
// Object keys are listed in sorted order.
func Describe(kind string, sample any) string {
	return "{\n" + describeIndent + kind + ": " + describeValue(sample, 1) + "\n}"
}

func describeValue(v any, depth int) string {
	indent := strings.Repeat(describeIndent, depth)
	deep := strings.Repeat(describeIndent, depth+1)

	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case []any:
		var b strings.Builder
		b.WriteString("[\n")
		for i, el := range val {
			b.WriteString(deep)
			b.WriteString(describeValue(el, depth+1))
			if i < len(val)-1 {
				b.WriteString(",")
			}
			b.WriteString("\n")
		}
		b.WriteString(indent + "]")
		return b.String()
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var b strings.Builder
		b.WriteString("{\n")
		for i, k := range keys {
			b.WriteString(deep + k + ": " + describeValue(val[k], depth+1))
			if i < len(keys)-1 {
				b.WriteString(",")
			}
			b.WriteString("\n")
		}
		b.WriteString(indent + "}")
		return b.String()
	}
	if _, ok := schema.NormalizeOutput(v); ok {
		return "number"
	}
	return "unknown"
}
