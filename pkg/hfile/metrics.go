package hfile

import "sync/atomic"

// ScanMetrics counts where a scan's bytes came from. An instance is created
// by the caller and threaded explicitly through the reads it cares about;
// there is no implicit per-goroutine state.
type ScanMetrics struct {
	bytesFromFS     atomic.Int64
	bytesFromCache  atomic.Int64
	blocksFromFS    atomic.Int64
	blocksFromCache atomic.Int64
}

func (m *ScanMetrics) BytesReadFromFS() int64     { return m.bytesFromFS.Load() }
func (m *ScanMetrics) BytesReadFromCache() int64  { return m.bytesFromCache.Load() }
func (m *ScanMetrics) BlocksReadFromFS() int64    { return m.blocksFromFS.Load() }
func (m *ScanMetrics) BlocksReadFromCache() int64 { return m.blocksFromCache.Load() }

func (m *ScanMetrics) recordFS(bytes int64) {
	if m == nil {
		return
	}
	m.bytesFromFS.Add(bytes)
	m.blocksFromFS.Add(1)
}

func (m *ScanMetrics) recordCache(bytes int64) {
	if m == nil {
		return
	}
	m.bytesFromCache.Add(bytes)
	m.blocksFromCache.Add(1)
}
