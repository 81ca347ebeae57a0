package slicest

// Conversion

func ToMap[T any, K comparable, V any, S ~[]T](s S, fn func(T) (K, V)) map[K]V {
	result := make(map[K]V, len(s))
	for _, t := range s {
		k, v := fn(t)
		result[k] = v
	}
	return result
}

// Map

func MapXI[T, U any, S ~[]T](s S, fn func(int, T) (U, error)) ([]U, error) {
	result := make([]U, len(s))
	for i, v := range s {
		out, err := fn(i, v)
		if err != nil {
			return nil, err
		}
		result[i] = out
	}
	return result, nil
}

func MapX[T, U any, S ~[]T](s S, fn func(T) (U, error)) ([]U, error) {
	return MapXI(s, func(_ int, t T) (U, error) {
		return fn(t)
	})
}

func Map[T, U any, S ~[]T](s S, fn func(T) U) []U {
	result, _ := MapXI(s, func(_ int, t T) (U, error) {
		return fn(t), nil
	})
	return result
}

// Filter

func Filter[T any, S ~[]T](s S, keep func(T) bool) S {
	result := make(S, 0, len(s))
	for _, t := range s {
		if keep(t) {
			result = append(result, t)
		}
	}
	return result
}

// Uniq returns s with duplicates removed, keeping first occurrences in order.
func Uniq[T comparable, S ~[]T](s S) S {
	seen := make(map[T]struct{}, len(s))
	result := make(S, 0, len(s))
	for _, t := range s {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		result = append(result, t)
	}
	return result
}
