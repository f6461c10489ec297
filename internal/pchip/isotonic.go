package pchip

// block is a run of pooled values sharing one level.
type block struct {
	sum   float64
	count int
}

func (b block) level() float64 {
	return b.sum / float64(b.count)
}

// Isotonic returns the non-decreasing sequence closest to ys in the
// least-squares sense (pool adjacent violators). The input is not modified.
func Isotonic(ys []float64) []float64 {
	out := make([]float64, len(ys))
	if len(ys) <= 1 {
		copy(out, ys)
		return out
	}

	stack := make([]block, 0, len(ys))
	for _, y := range ys {
		stack = append(stack, block{sum: y, count: 1})
		// Merge backwards while the last two blocks violate the order
		for len(stack) > 1 {
			last, prev := stack[len(stack)-1], stack[len(stack)-2]
			if prev.level() <= last.level() {
				break
			}
			stack = stack[:len(stack)-1]
			stack[len(stack)-1] = block{sum: prev.sum + last.sum, count: prev.count + last.count}
		}
	}

	i := 0
	for _, b := range stack {
		v := b.level()
		for range b.count {
			out[i] = v
			i++
		}
	}
	return out
}
