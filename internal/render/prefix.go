package render

import "github.com/charmbracelet/lipgloss"

// PrefixSums returns the memoized prefix-sum scan of heights, rebuilding it
// only when either the row count or the rendering width changed since the
// last call, so repeated scroll-position hit tests don't re-sum on every
// frame.
func (c *Cache) PrefixSums(heights []int, width int) []int {
	if c.prefixSums != nil && c.prefixWidth == width && c.prefixCount == len(heights) {
		return c.prefixSums
	}

	sums := make([]int, len(heights)+1)
	for i, h := range heights {
		sums[i+1] = sums[i] + h
	}
	c.prefixSums = sums
	c.prefixWidth = width
	c.prefixCount = len(heights)
	return sums
}

// RowAtOffset binary-searches the prefix-sum scan for the row containing
// scroll offset y, giving O(log N) hit-testing of scroll positions instead
// of a linear walk over every row's height.
func RowAtOffset(prefixSums []int, y int) (row int, ok bool) {
	if len(prefixSums) < 2 {
		return 0, false
	}
	lo, hi := 0, len(prefixSums)-2
	for lo <= hi {
		mid := (lo + hi) / 2
		if prefixSums[mid] <= y && y < prefixSums[mid+1] {
			return mid, true
		}
		if y < prefixSums[mid] {
			hi = mid - 1
		} else {
			lo = mid + 1
		}
	}
	return 0, false
}

// displayWidth measures s the way the cache's wrap pass does: via
// lipgloss's rune-width-aware Width, so wide/zero-width runes in an exec's
// stdout or a diff don't desync the cached height from what actually
// blits.
func displayWidth(s string) int {
	return lipgloss.Width(s)
}
