// Package profiler 收集堆与 GC 的运行统计
//
// 统计始终开启，只有廉价计数：分配次数、两种回收的次数与停顿
// 时间、晋升与清扫的对象数。快照可导出为 JSON 或人读报告。
package profiler

import (
	"fmt"
	"io"
	"time"

	"github.com/segmentio/encoding/json"
	"go.uber.org/atomic"
)

// Profiler GC 统计收集器
type Profiler struct {
	allocations atomic.Int64

	minorCount      atomic.Int64
	minorPauseTotal atomic.Int64 // 纳秒
	minorPauseMax   atomic.Int64

	majorCount      atomic.Int64
	majorPauseTotal atomic.Int64
	majorPauseMax   atomic.Int64

	liveAtLastGC atomic.Int64
	promoted     atomic.Int64
	swept        atomic.Int64
}

// New 创建统计收集器。
func New() *Profiler {
	return &Profiler{}
}

// RecordAlloc 记录一次分配。
func (p *Profiler) RecordAlloc() {
	p.allocations.Inc()
}

// RecordMinor 记录一次复制回收。
func (p *Profiler) RecordMinor(pause time.Duration, live int64) {
	p.minorCount.Inc()
	p.minorPauseTotal.Add(int64(pause))
	if int64(pause) > p.minorPauseMax.Load() {
		p.minorPauseMax.Store(int64(pause))
	}
	p.liveAtLastGC.Store(live)
}

// RecordMajor 记录一次标记清扫。
func (p *Profiler) RecordMajor(pause time.Duration, live, swept int64) {
	p.majorCount.Inc()
	p.majorPauseTotal.Add(int64(pause))
	if int64(pause) > p.majorPauseMax.Load() {
		p.majorPauseMax.Store(int64(pause))
	}
	p.liveAtLastGC.Store(live)
	p.swept.Add(swept)
}

// RecordPromotion 记录一次对象晋升。
func (p *Profiler) RecordPromotion() {
	p.promoted.Inc()
}

// Snapshot 统计快照
type Snapshot struct {
	Allocations int64 `json:"allocations"`

	MinorGCs        int64 `json:"minor_gcs"`
	MinorPauseNs    int64 `json:"minor_pause_ns"`
	MinorPauseMaxNs int64 `json:"minor_pause_max_ns"`

	MajorGCs        int64 `json:"major_gcs"`
	MajorPauseNs    int64 `json:"major_pause_ns"`
	MajorPauseMaxNs int64 `json:"major_pause_max_ns"`

	LiveAtLastGC int64  `json:"live_at_last_gc"`
	Promoted     int64  `json:"promoted"`
	Swept        int64  `json:"swept"`
	TenureWords  uint64 `json:"tenure_words"`
}

// Snapshot 取当前统计快照。
func (p *Profiler) Snapshot() Snapshot {
	return Snapshot{
		Allocations:     p.allocations.Load(),
		MinorGCs:        p.minorCount.Load(),
		MinorPauseNs:    p.minorPauseTotal.Load(),
		MinorPauseMaxNs: p.minorPauseMax.Load(),
		MajorGCs:        p.majorCount.Load(),
		MajorPauseNs:    p.majorPauseTotal.Load(),
		MajorPauseMaxNs: p.majorPauseMax.Load(),
		LiveAtLastGC:    p.liveAtLastGC.Load(),
		Promoted:        p.promoted.Load(),
		Swept:           p.swept.Load(),
	}
}

// MarshalIndent 快照的缩进 JSON。
func (s Snapshot) MarshalIndent() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// Report 人读格式的统计报告。
func (s Snapshot) Report(w io.Writer) {
	fmt.Fprintf(w, "=== Heap Statistics ===\n")
	fmt.Fprintf(w, "Allocations:     %d\n", s.Allocations)
	fmt.Fprintf(w, "Minor GCs:       %d (total %s, max %s)\n",
		s.MinorGCs, time.Duration(s.MinorPauseNs), time.Duration(s.MinorPauseMaxNs))
	fmt.Fprintf(w, "Major GCs:       %d (total %s, max %s)\n",
		s.MajorGCs, time.Duration(s.MajorPauseNs), time.Duration(s.MajorPauseMaxNs))
	fmt.Fprintf(w, "Live at last GC: %d\n", s.LiveAtLastGC)
	fmt.Fprintf(w, "Promoted:        %d\n", s.Promoted)
	fmt.Fprintf(w, "Swept:           %d\n", s.Swept)
	fmt.Fprintf(w, "Tenure size:     %d words\n", s.TenureWords)
}
