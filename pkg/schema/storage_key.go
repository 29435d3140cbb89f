package schema

import (
	"sort"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// StorageKey returns the canonical field key for name called with args:
// arguments sorted by name, values inlined as stable JSON, null arguments dropped.
//
//	StorageKey("image", map[string]any{"version": "medium"}) == `image(version:"medium")`
func StorageKey(name string, args map[string]any) string {
	keys := make([]string, 0, len(args))
	for k, v := range args {
		if v == nil {
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return name
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('(')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte(':')
		writeStableJSON(&b, args[k])
	}
	b.WriteByte(')')
	return b.String()
}

func writeStableJSON(b *strings.Builder, v any) {
	switch val := v.(type) {
	case nil:
		b.WriteString("null")
	case string:
		quoted, _ := json.Marshal(val)
		b.Write(quoted)
	case bool:
		b.WriteString(strconv.FormatBool(val))
	case float64:
		b.WriteString(strconv.FormatFloat(val, 'f', -1, 64))
	case float32:
		b.WriteString(strconv.FormatFloat(float64(val), 'f', -1, 32))
	case int:
		b.WriteString(strconv.Itoa(val))
	case int64:
		b.WriteString(strconv.FormatInt(val, 10))
	case []any:
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			writeStableJSON(b, item)
		}
		b.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			quoted, _ := json.Marshal(k)
			b.Write(quoted)
			b.WriteByte(':')
			writeStableJSON(b, val[k])
		}
		b.WriteByte('}')
	default:
		encoded, err := json.Marshal(val)
		if err != nil {
			b.WriteString(strconv.Quote(err.Error()))
			return
		}
		b.Write(encoded)
	}
}
