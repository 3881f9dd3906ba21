package domain

import "time"

// Statistics snapshots. Counters are monotonic and reset only by explicit
// operator action, never implicitly.

// ConversionStats is the conversion registry snapshot.
type ConversionStats struct {
	ToHostOK      uint64
	ToHostFail    uint64
	ToDynamicOK   uint64
	ToDynamicFail uint64
	// PairCounts counts conversions per "source->target" pair.
	PairCounts map[string]uint64
	// AvgLatency is a running mean over all conversions.
	AvgLatency time.Duration
}

// CacheStats is one accessor cache's snapshot.
type CacheStats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Entries   int
}

// HitRatio returns hits/(hits+misses), zero when the cache is untouched.
func (s CacheStats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// TxnStats is the transaction coordinator snapshot.
type TxnStats struct {
	Started     uint64
	Committed   uint64
	RolledBack  uint64
	Failed      uint64
	Groups      uint64
	AvgDuration time.Duration
	// PeakActive is the high-water mark of concurrently active
	// transactions across all execution contexts.
	PeakActive int
}

// AccessorStats is one accessor's operation counters plus its cache.
type AccessorStats struct {
	Ops      uint64
	Writes   uint64
	Batches  uint64
	Failures uint64
	Cache    CacheStats
}

// RuntimeStats is the scripting runtime snapshot.
type RuntimeStats struct {
	Executions    uint64
	Failures      uint64
	ModulesLoaded int
	AvgDuration   time.Duration
}

// BridgeStats aggregates every component snapshot plus process memory.
type BridgeStats struct {
	Conversion ConversionStats
	Txn        TxnStats
	Elements   AccessorStats
	Parameters AccessorStats
	Geometry   AccessorStats
	Runtime    RuntimeStats

	HeapAlloc  uint64
	HeapInUse  uint64
	NumGC      uint32
	CapturedAt time.Time
}
