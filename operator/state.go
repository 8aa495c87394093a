package operator

// toInt64 normalizes a value pulled out of a State map that may have round
// -tripped through JSON (which decodes all numbers as float64) back into
// an int64, so Restore implementations don't need to special-case the
// checkpoint codec.
func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
