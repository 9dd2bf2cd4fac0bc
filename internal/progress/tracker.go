// Package progress aggregates per-chunk file transfer callbacks into a
// bounded notification stream.
package progress

// Sentinel is the (written, total) value pair meaning "advance to the
// next file in the batch". It is a boundary marker, not progress.
const Sentinel = -1

// Report is a single coalesced progress notification.
type Report struct {
	// Written is the number of payload bytes written for the current
	// file so far.
	Written int64 `json:"written"`

	// Total is the current file's size in bytes.
	Total int64 `json:"total"`

	// FileIndex is the zero-based position within the batch.
	FileIndex int `json:"fileIndex"`

	// FileCount is the number of files in the batch.
	FileCount int `json:"fileCount"`
}

// Sink receives coalesced progress reports.
type Sink func(Report)

// Tracker converts raw per-chunk (written, total) events, arriving many
// times per second across many files, into at most one notification per
// file-boundary crossing. Intra-file fidelity is deliberately sacrificed
// for throughput.
//
// A Tracker belongs to exactly one transfer batch at a time; it is owned
// by the active transfer call and never shared across concurrent
// transfers.
type Tracker struct {
	sink Sink

	fileCount         int
	currentFileIndex  int
	lastReportedIndex int
}

// NewTracker creates a tracker in its reset state.
func NewTracker(sink Sink) *Tracker {
	t := &Tracker{sink: sink}
	t.Reset()
	return t
}

// Begin resets the tracker and records the batch's file count. Call at
// the start of every batch.
func (t *Tracker) Begin(fileCount int) {
	t.Reset()
	t.fileCount = fileCount
}

// Reset returns the tracker to its idle state. Must run unconditionally
// at the end of every batch, including on error paths, so state never
// leaks into the next unrelated transfer.
func (t *Tracker) Reset() {
	t.fileCount = -1
	t.currentFileIndex = -1
	t.lastReportedIndex = -1
}

// Update consumes one raw progress event. The (-1, -1) sentinel advances
// the file index without emitting; any other event emits at most once per
// distinct file index.
func (t *Tracker) Update(written, total int64) {
	if written == Sentinel && total == Sentinel {
		t.currentFileIndex++
		return
	}

	if t.currentFileIndex == t.lastReportedIndex {
		return
	}
	t.lastReportedIndex = t.currentFileIndex

	if t.sink != nil {
		t.sink(Report{
			Written:   written,
			Total:     total,
			FileIndex: t.currentFileIndex,
			FileCount: t.fileCount,
		})
	}
}

// State reports the internal counters; used to verify the reset
// invariants.
func (t *Tracker) State() (fileCount, currentFileIndex, lastReportedIndex int) {
	return t.fileCount, t.currentFileIndex, t.lastReportedIndex
}
