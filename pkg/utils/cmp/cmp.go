package cmp

// SliceEq reports a and b have the same elements in the same order.
func SliceEq[T comparable](a []T, b []T) bool {
	if len(a) != len(b) {
		return false
	}
	for nth, va := range a {
		if va != b[nth] {
			return false
		}
	}
	return true
}

// SliceContentEq reports a and b are equal as bags (multi-sets), ignoring order.
func SliceContentEq[T comparable](a, b []T) bool {
	if len(a) != len(b) {
		return false
	}
	count := make(map[T]int, len(a))
	for _, v := range a {
		count[v] += 1
	}
	for _, v := range b {
		if count[v] == 0 {
			return false
		}
		count[v] -= 1
	}
	return true
}

// MapEq reports a and b have the same key-value pairs.
func MapEq[K comparable, V comparable](a, b map[K]V) bool {
	if len(a) != len(b) {
		return false
	}
	for k, va := range a {
		vb, ok := b[k]
		if !ok || va != vb {
			return false
		}
	}
	return true
}
