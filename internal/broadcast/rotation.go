// Package broadcast holds the pure parts of task rebroadcasting: rotating a
// task's eligible delegates and deciding when the next attempt is due.
package broadcast

// Rotate removes up to limit ids from the front of eligible and appends them
// to the back. chosen is the moved slice in the order it was taken. eligible
// is not modified.
func Rotate(eligible []string, limit int) (rotated, chosen []string) {
	n := min(limit, len(eligible))
	if n <= 0 {
		return append([]string(nil), eligible...), nil
	}

	rotated = make([]string, 0, len(eligible))
	rotated = append(rotated, eligible[n:]...)
	rotated = append(rotated, eligible[:n]...)

	chosen = append([]string(nil), eligible[:n]...)
	return rotated, chosen
}

// union appends the ids of add that are not yet in base, keeping first-seen order.
func union(base, add []string) []string {
	seen := make(map[string]struct{}, len(base)+len(add))
	out := make([]string, 0, len(base)+len(add))
	for _, list := range [][]string{base, add} {
		for _, id := range list {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// covers reports whether every id of want is present in have.
func covers(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, id := range have {
		set[id] = struct{}{}
	}
	for _, id := range want {
		if _, ok := set[id]; !ok {
			return false
		}
	}
	return true
}
