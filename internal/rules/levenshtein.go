package rules

// Distance computes the Levenshtein edit distance between a and b with the
// classic dynamic program, keeping only two rows. Operands are swapped so
// the row length follows the shorter string; the result is symmetric.
func Distance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) > len(rb) {
		ra, rb = rb, ra
	}
	n, m := len(ra), len(rb)
	if n == 0 {
		return m
	}

	previous := make([]int, n+1)
	current := make([]int, n+1)
	for j := 0; j <= n; j++ {
		previous[j] = j
	}

	for i := 1; i <= m; i++ {
		current[0] = i
		for j := 1; j <= n; j++ {
			add := previous[j] + 1
			remove := current[j-1] + 1
			change := previous[j-1]
			if ra[j-1] != rb[i-1] {
				change++
			}
			current[j] = min3(add, remove, change)
		}
		previous, current = current, previous
	}

	return previous[n]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
