package domain

import "dextra-ledger/internal/mapping"

// RateHistory is a per-day series of values with a last-value fallback.
// A day holds at most one value; setting it again replaces the earlier one.
type RateHistory struct {
	Values mapping.Mapping[int64, uint64] `json:"values"` // day_start -> value
	Last   uint64                         `json:"last"`
}

// NewRateHistory seeds a history with value at day.
func NewRateHistory(day int64, value uint64) RateHistory {
	var h RateHistory
	h.Set(day, value)
	return h
}

// Set records value for day and makes it the fallback.
func (h *RateHistory) Set(day int64, value uint64) {
	h.Values.Set(day, value)
	h.Last = value
}

// Get returns the value recorded for exactly day, otherwise the last value set.
func (h *RateHistory) Get(day int64) uint64 {
	if v, ok := h.Values.Get(day); ok {
		return v
	}
	return h.Last
}

// Len returns the number of recorded days.
func (h *RateHistory) Len() int {
	return h.Values.Len()
}

// Clone returns an independent copy.
func (h *RateHistory) Clone() RateHistory {
	return RateHistory{Values: h.Values.Clone(), Last: h.Last}
}
