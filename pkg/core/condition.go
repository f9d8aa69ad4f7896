package core

// Compare applies a condition operator to a metric value and threshold.
// Supported operators: >, >=, <, <=, ==, !=. Unknown operators never match.
func Compare(value float64, operator string, threshold float64) bool {
	switch operator {
	case ">", "gt":
		return value > threshold
	case ">=", "gte":
		return value >= threshold
	case "<", "lt":
		return value < threshold
	case "<=", "lte":
		return value <= threshold
	case "==", "eq":
		return value == threshold
	case "!=", "ne":
		return value != threshold
	}
	return false
}
