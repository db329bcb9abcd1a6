package slices

// Map applies mapper to each element.
func Map[T any, R any](sli []T, mapper func(v T) R) []R {
	ret := make([]R, len(sli))
	for i, v := range sli {
		ret[i] = mapper(v)
	}
	return ret
}

// MapUntilError applies mapper to each element, and stops at the first error.
func MapUntilError[T any, R any](sli []T, mapper func(v T) (R, error)) ([]R, error) {
	ret := make([]R, 0, len(sli))
	for _, v := range sli {
		r, err := mapper(v)
		if err != nil {
			return nil, err
		}
		ret = append(ret, r)
	}
	return ret, nil
}

// ToMap indexes elements by getkey. Later elements win on key conflict.
func ToMap[T any, K comparable](sli []T, getkey func(v T) K) map[K]T {
	ret := make(map[K]T, len(sli))
	for _, v := range sli {
		ret[getkey(v)] = v
	}
	return ret
}

// KeysOf returns keys of m in unspecified order.
func KeysOf[K comparable, T any](m map[K]T) []K {
	ret := make([]K, 0, len(m))
	for k := range m {
		ret = append(ret, k)
	}
	return ret
}

// Filter returns elements which satisfy predicator, in the original order.
func Filter[T any](vs []T, predicator func(T) bool) []T {
	ret := make([]T, 0, len(vs))
	for _, v := range vs {
		if predicator(v) {
			ret = append(ret, v)
		}
	}
	return ret
}

// First returns the first element which satisfies predicator.
func First[T any](sli []T, predicator func(T) bool) (T, bool) {
	for _, v := range sli {
		if predicator(v) {
			return v, true
		}
	}
	return *new(T), false
}

// Uniq drops duplicated elements, keeping the first occurrence.
func Uniq[T comparable](sli []T) []T {
	seen := make(map[T]struct{}, len(sli))
	ret := make([]T, 0, len(sli))
	for _, v := range sli {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		ret = append(ret, v)
	}
	return ret
}

// Contains reports whether v is in sli.
func Contains[T comparable](sli []T, v T) bool {
	_, ok := First(sli, func(e T) bool { return e == v })
	return ok
}
