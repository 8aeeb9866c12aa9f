package core

// AlignSize rounds size up to the specified power-of-two alignment boundary.
func AlignSize(size, align int) int {
	return (size + align - 1) &^ (align - 1)
}

// AlignDown rounds n down to a multiple of step.
func AlignDown(n, step int) int {
	return n - n%step
}

// AlignUp rounds n up to a multiple of step (step need not be a power of two).
func AlignUp(n, step int) int {
	if r := n % step; r != 0 {
		return n + step - r
	}
	return n
}

// SplitRange divides [start, end) into an unaligned prefix, a body whose
// length is a multiple of step and which starts on a multiple of step, and a
// remainder. The three ranges are contiguous and cover [start, end) exactly.
func SplitRange(start, end, step int) (bodyStart, bodyEnd int) {
	if end <= start {
		return start, start
	}
	bodyStart = AlignUp(start, step)
	if bodyStart > end {
		return end, end
	}
	bodyEnd = bodyStart + AlignDown(end-bodyStart, step)
	return bodyStart, bodyEnd
}

// LanesPerLine returns how many float64 lanes fill one cache line.
func LanesPerLine() int {
	return CacheLineSize / Float64Size
}
