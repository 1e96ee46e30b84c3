package keyexpr

// Matching returns the indexes of the expressions intersecting key, in order.
func Matching(exprs []string, key string) []int {
	var idx []int
	for i, e := range exprs {
		if Intersects(e, key) {
			idx = append(idx, i)
		}
	}
	return idx
}

// BestMatch returns the index of the most specific expression intersecting
// key, or -1 when none does. Ties go to the lowest index, i.e. the earliest
// declaration.
func BestMatch(exprs []string, key string) int {
	best, bestScore := -1, -1
	for i, e := range exprs {
		if !Intersects(e, key) {
			continue
		}
		if score := Specificity(e); score > bestScore {
			best, bestScore = i, score
		}
	}
	return best
}
