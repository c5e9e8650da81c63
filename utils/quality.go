package utils

// SquaredDeviation returns the integer variance of buf: the mean is
// truncated first, then the summed squared deviation is divided by the
// length with truncation. Drivers use it to reject blank scans.
func SquaredDeviation(buf []byte) int {
	n := int64(len(buf))
	if n == 0 {
		return 0
	}
	var sum int64
	for _, b := range buf {
		sum += int64(b)
	}
	mean := sum / n

	var acc int64
	for _, b := range buf {
		d := int64(b) - mean
		acc += d * d
	}
	return int(acc / n)
}

// MeanSquareDiff returns the truncated mean of the squared per-byte
// difference over the first n bytes of a and b. Callers guarantee that n
// does not exceed either length.
func MeanSquareDiff(a, b []byte, n int) int {
	if n <= 0 {
		return 0
	}
	var acc int64
	for i := 0; i < n; i++ {
		d := int64(a[i]) - int64(b[i])
		acc += d * d
	}
	return int(acc / int64(n))
}
