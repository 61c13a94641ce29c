package utils

// Rotate moves the first |n| mod len(items) elements to the back, the same
// effect as repeating arr.push(arr.shift()) in the obfuscator's shuffler.
// The input slice is not modified.
func Rotate[T any](items []T, n int64) []T {
	out := make([]T, len(items))
	if len(items) == 0 {
		return out
	}
	if n < 0 {
		n = -n
	}
	shift := int(n % int64(len(items)))
	copy(out, items[shift:])
	copy(out[len(items)-shift:], items[:shift])
	return out
}
