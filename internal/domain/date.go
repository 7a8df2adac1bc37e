package domain

// SecondsPerDay is the width of one rate/APY bucket.
const SecondsPerDay int64 = 86400

// StartOfDay truncates ts to the start of its UTC day.
func StartOfDay(ts int64) int64 {
	return (ts / SecondsPerDay) * SecondsPerDay
}

// EndOfDay returns the last second of ts's UTC day.
func EndOfDay(ts int64) int64 {
	return StartOfDay(ts) + SecondsPerDay - 1
}

// DiffDays returns the number of whole days from b to a.
func DiffDays(a, b int64) int64 {
	return (a - b) / SecondsPerDay
}
