package telemetry

import (
	"math"
	"strconv"
)

var byteUnits = []string{"B", "KB", "MB", "GB", "TB", "PB"}

// FormatBytes renders n with 1024-based units rounded to two decimals: "0 B", "1.5 KB",
// "1.0 MB".
func FormatBytes(n uint64) string {
	if n < 1024 {
		return strconv.FormatUint(n, 10) + " B"
	}
	v := float64(n)
	unit := 0
	for v >= 1024 && unit < len(byteUnits)-1 {
		v /= 1024
		unit++
	}
	v = math.Round(v*100) / 100
	// 1023.999 KB rounds up to the next unit.
	if v >= 1024 && unit < len(byteUnits)-1 {
		v = math.Round(v/1024*100) / 100
		unit++
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if v == math.Trunc(v) {
		s += ".0"
	}
	return s + " " + byteUnits[unit]
}
