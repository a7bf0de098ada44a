package main

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/mgomes/moonhost/moon"
)

// formatValue renders a script result for the terminal.
func formatValue(v any) string {
	return formatDepth(v, 0)
}

func formatDepth(v any, depth int) string {
	if depth > 8 {
		return "..."
	}
	switch x := v.(type) {
	case nil:
		return "nil"
	case string:
		if depth > 0 {
			return strconv.Quote(x)
		}
		return x
	case float64:
		if x == float64(int64(x)) {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case moon.Tuple:
		parts := make([]string, len(x))
		for i, item := range x {
			parts[i] = formatDepth(item, depth)
		}
		return strings.Join(parts, ", ")
	case []any:
		parts := make([]string, len(x))
		for i, item := range x {
			parts[i] = formatDepth(item, depth+1)
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + " = " + formatDepth(x[k], depth+1)
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case moon.Exporter:
		return formatDepth(x.Export(), depth)
	case moon.Callable:
		return "function"
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}
