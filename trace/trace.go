// Package trace implements the diagnostic tracing surface the planner's
// force-reverse-output/EXPLAIN-style tooling reads (spec.md §6's
// "force-reverse-output (used for diagnostic tracing)" configuration
// knob). It records one line per planning decision into an in-memory,
// seekable buffer a caller can dump or replay.
package trace

import (
	"fmt"

	"github.com/dsnet/golib/memfile"

	"github.com/ryogrid/wherecore/common"
)

// Tracer wraps a common.Logger over a memfile.File buffer, the same
// in-memory-file idiom the teacher uses for its virtual disk manager
// (storage/disk/virtual_disk_manager_impl.go's memfile.New-backed
// db/log files) — here standing in for a page-backed disk file with a
// growable, seekable planning trace instead.
type Tracer struct {
	buf    *memfile.File
	logger *common.Logger
}

// New returns a Tracer gated by mask, writing formatted lines into an
// in-memory buffer retrievable with Dump.
func New(mask common.LogLevel) *Tracer {
	buf := memfile.New(make([]byte, 0))
	return &Tracer{buf: buf, logger: common.NewLogger(mask, buf)}
}

// Tracef records one trace line if level is enabled in the Tracer's mask.
func (t *Tracer) Tracef(level common.LogLevel, format string, args ...interface{}) {
	t.logger.Printf(level, format+"\n", args...)
}

// LoopConsidered records a Loop Builder candidate for later inspection,
// the level of detail spec.md's SYSTEM OVERVIEW attributes to the Loop
// Builder's 28% share of the core.
func (t *Tracer) LoopConsidered(table string, cursor int32, perRow, nOut int32, flags string) {
	t.Tracef(common.LevelLoopDetail, "loop table=%s cursor=%d perRow=%d nOut=%d flags=%s", table, cursor, perRow, nOut, flags)
}

// PathChosen records the Path Solver's decision at one depth.
func (t *Tracer) PathChosen(depth int, cost int32, ordered bool) {
	t.Tracef(common.LevelPathDetail, "path depth=%d cost=%d ordered=%v", depth, cost, ordered)
}

// Dump returns every line written so far, seeking the underlying buffer
// back to its current write position afterward so tracing can continue.
func (t *Tracer) Dump() string {
	pos, _ := t.buf.Seek(0, 1)
	if _, err := t.buf.Seek(0, 0); err != nil {
		return fmt.Sprintf("<trace unavailable: %v>", err)
	}
	data := make([]byte, pos)
	n, _ := t.buf.Read(data)
	t.buf.Seek(pos, 0)
	return string(data[:n])
}
