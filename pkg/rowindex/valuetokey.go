package rowindex

import "fmt"

// ValueToKey converts a column value into a lexicographically-sortable
// string key, adapted verbatim from the teacher's index.ValueToKey.
func ValueToKey(v any) string {
	if v == nil {
		return "\x00null"
	}
	switch val := v.(type) {
	case string:
		return "s:" + val
	case int64:
		return fmt.Sprintf("i:%020d", val)
	case int:
		return fmt.Sprintf("i:%020d", int64(val))
	case float64:
		return fmt.Sprintf("f:%.15e", val)
	case bool:
		if val {
			return "b:true"
		}
		return "b:false"
	default:
		return fmt.Sprintf("?:%v", val)
	}
}
