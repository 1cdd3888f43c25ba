// Package heap 实现分代移动垃圾回收器
//
// 托管堆由一个 []uint64 后备缓冲区构成，托管地址是其中的字索引
// （索引 0 保留为空引用）。前部是幼年代的两个半区，采用指针碰撞
// 分配和 Cheney 复制回收；尾部是老年代区，按首次适应空闲链分配，
// 由阈值触发的标记清扫回收。影子栈是唯一的根集合。
//
// 回收器是单线程、不可重入的。分配是唯一的隐式安全点：跨越分配
// 存活的指针必须位于影子栈上、已扎根对象的字段中，或经写屏障进入
// 记忆集。
package heap

import (
	"errors"
	"os"

	"go.uber.org/multierr"

	"github.com/tangzhangming/genheap/internal/profiler"
	"github.com/tangzhangming/genheap/internal/trace"
)

// ErrMemoryExhausted 按需的标记清扫加三次复制回收后仍无法满足分配。
// 对本次请求是致命的，但堆仍然可用：调用方可以丢弃根后重试。
var ErrMemoryExhausted = errors.New("genheap: memory exhausted")

// CheckInvariants 开启调试断言（字段越界、代位与链接视图不匹配等）。
// 默认关闭，热路径不受影响。
var CheckInvariants = false

const wordBytes = 8

// Config 堆配置
type Config struct {
	// YoungWords 每个半区的字数
	YoungWords uint64

	// StackSlots 影子栈的初始容量
	StackSlots int

	// Debug 调试级别：0 静默，1 关闭时输出汇总，>=2 每次 GC 输出跟踪
	Debug int

	// StatsPath 非空时，Close 将统计快照以 JSON 写入该路径
	StatsPath string
}

// Heap 分代托管堆。通过 New 创建、Close 释放；不可并发使用。
type Heap struct {
	// 后备缓冲区。索引 0 保留；幼年代占据固定前缀，老年代区
	// 从 nurseryEnd 起向尾部增长（索引稳定，追加不失效）。
	words []uint64

	semiSpaceWords uint64
	nurseryBase    Ref // 幼年代起始（含两个半区）
	nurseryEnd     Ref // 幼年代结束，同时是老年代区起始
	semi0          Ref // 活动半区基址
	semi1          Ref // 非活动半区基址
	currentTop     Ref // 碰撞指针
	currentEnd     Ref // 活动半区上界

	// 老年代：穿过头部链接字段的单链表
	tenureHead  Ref
	tenureWords uint64 // 老年代占用的字数
	tenureLimit uint64 // 触发标记清扫的阈值
	freeList    Ref    // 首次适应空闲链表头

	shadow   *Shadow
	remember []Ref // 记忆集：可能指向幼年代的老年代对象
	promoted []Ref // 本次复制回收中待扫描的晋升对象

	currentMark int

	copyGCCount      int
	markSweepGCCount int

	classes    [maxClasses]TypeDesc
	classCount int

	log  *trace.Logger
	prof *profiler.Profiler

	statsPath string
	closed    bool
}

// New 创建并初始化一个堆。
func New(cfg Config) (*Heap, error) {
	if cfg.YoungWords < headerWords+1 {
		return nil, errors.New("genheap: young space too small")
	}
	if cfg.StackSlots < 0 {
		return nil, errors.New("genheap: negative shadow stack size")
	}

	h := &Heap{
		semiSpaceWords: cfg.YoungWords,
		words:          make([]uint64, 1+cfg.YoungWords*2),
		shadow:         newShadow(cfg.StackSlots),
		remember:       make([]Ref, 0, cfg.YoungWords/64),
		promoted:       make([]Ref, 0, cfg.YoungWords/1024),
		currentMark:    1,
		tenureLimit:    cfg.YoungWords * 2,
		log:            trace.New(cfg.Debug),
		prof:           profiler.New(),
	}

	h.nurseryBase = 1
	h.nurseryEnd = Ref(1 + cfg.YoungWords*2)
	h.semi0 = h.nurseryBase
	h.semi1 = h.nurseryBase + Ref(cfg.YoungWords)
	h.currentTop = h.semi0
	h.currentEnd = h.semi0 + Ref(cfg.YoungWords)

	h.classes[classObject] = TypeDesc{Name: "object"}
	h.classCount = 1

	h.statsPath = cfg.StatsPath
	return h, nil
}

// NewMiB 以 MiB 为单位创建堆。对应宿主绑定层的初始化入口。
func NewMiB(youngMiB, stackMiB int) (*Heap, error) {
	return New(Config{
		YoungWords: uint64(youngMiB) * 1024 * 1024 / wordBytes,
		StackSlots: stackMiB * 1024 * 1024 / wordBytes,
	})
}

// Close 释放堆空间并清空辅助容器。调试级别大于 0 时输出汇总。
// Close 之后允许重新 New；同一个 Heap 不可再使用。
func (h *Heap) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true

	h.log.Summary(h.copyGCCount, h.markSweepGCCount)

	var err error
	if h.statsPath != "" {
		snap := h.prof.Snapshot()
		snap.TenureWords = h.tenureWords
		if data, jerr := snap.MarshalIndent(); jerr != nil {
			err = multierr.Append(err, jerr)
		} else if werr := os.WriteFile(h.statsPath, data, 0644); werr != nil {
			err = multierr.Append(err, werr)
		}
	}

	h.words = nil
	h.shadow.reset()
	h.remember = nil
	h.promoted = nil
	h.tenureHead = 0
	h.freeList = 0

	return multierr.Append(err, h.log.Close())
}

// Shadow 影子栈：两个回收器共用的唯一根集合。
func (h *Heap) Shadow() *Shadow { return h.shadow }

// Debug 当前调试级别。
func (h *Heap) Debug() int { return h.log.Level() }

// SetDebug 设置调试级别。
func (h *Heap) SetDebug(level int) { h.log.SetLevel(level) }

// TenureSize 老年代当前占用的字数。
func (h *Heap) TenureSize() uint64 { return h.tenureWords }

// TenureSizeMiB 老年代当前占用，换算为整数 MiB。
func (h *Heap) TenureSizeMiB() uint64 {
	return h.tenureWords * wordBytes / (1024 * 1024)
}

// CopyGCCount 累计复制回收次数。
func (h *Heap) CopyGCCount() int { return h.copyGCCount }

// MarkSweepGCCount 累计标记清扫次数。
func (h *Heap) MarkSweepGCCount() int { return h.markSweepGCCount }

// Stats 统计快照。
func (h *Heap) Stats() profiler.Snapshot {
	snap := h.prof.Snapshot()
	snap.TenureWords = h.tenureWords
	return snap
}

// inNursery p 是否位于幼年代（任一半区）。
func (h *Heap) inNursery(p Ref) bool {
	return h.nurseryBase <= p && p < h.nurseryEnd
}

// ============================================================================
// 分配
// ============================================================================

// allocWords 在活动半区分配 wcount 个字并全部清零。
func (h *Heap) allocWords(wcount uint64) (Ref, error) {
	newTop := h.currentTop + Ref(wcount)
	if newTop > h.currentEnd {
		var err error
		newTop, err = h.allocSlow(wcount)
		if err != nil {
			return 0, err
		}
	}

	p := h.currentTop
	h.currentTop = newTop

	// 所有指针字段必须初始化为空引用
	for i := Ref(0); i < Ref(wcount); i++ {
		h.words[p+i] = 0
	}
	h.prof.RecordAlloc()
	return p, nil
}

// allocSlow 慢路径：先按需标记清扫，再做至多三次复制回收。
// 一次回收可能让活动半区挤满刚晋升的幸存者；第二次从翻转后的
// 半区排空剩余根；三次封顶保证终止。
func (h *Heap) allocSlow(wcount uint64) (Ref, error) {
	h.markSweepIfNeeded()
	for i := 0; i < 3; i++ {
		h.Scavenge()
		newTop := h.currentTop + Ref(wcount)
		if newTop <= h.currentEnd {
			return newTop, nil
		}
	}
	h.log.Tracef("memory exhausted: request of %d words", wcount)
	return 0, ErrMemoryExhausted
}

// AllocObject 在幼年代分配一个普通对象。
//
// fieldCount: 字段数，每个字段 64 位。
// unboxSize:  起始的非指针字段数，0 <= unboxSize <= 7 且不超过字段数。
// class:      类型描述符索引，见 RegisterClass。普通对象用 0。
//
// 新对象：代 = 1，remember = 0，标记 = 0，转发指针为空，
// 装箱字段全部为空引用。
func (h *Heap) AllocObject(fieldCount uint32, unboxSize uint32, class int) (Ref, error) {
	h.assert(unboxSize <= maxUnboxSize, "unbox prefix larger than 7")
	h.assert(unboxSize <= fieldCount, "unbox prefix larger than the field count")
	h.assert(class >= 0 && class < h.classCount, "unregistered class index")

	p, err := h.allocWords(uint64(fieldCount) + headerWords)
	if err != nil {
		return 0, err
	}
	h.writeHeader(p, TypeObject, fieldCount, unboxSize, class, 1)
	return p, nil
}

// AllocUnboxArray 分配一个非装箱数组：原始 64 位载荷，从不扫描。
func (h *Heap) AllocUnboxArray(size uint32) (Ref, error) {
	p, err := h.allocWords(uint64(size) + headerWords)
	if err != nil {
		return 0, err
	}
	h.writeHeader(p, TypeUnboxArray, size, 0, 0, 1)
	return p, nil
}

// AllocBoxArray 分配一个装箱数组：每个元素是装箱值，可含指针。
func (h *Heap) AllocBoxArray(size uint32) (Ref, error) {
	p, err := h.allocWords(uint64(size) + headerWords)
	if err != nil {
		return 0, err
	}
	h.writeHeader(p, TypeBoxArray, size, 0, 0, 1)
	return p, nil
}

// AllocObjectTenured 直接在老年代分配普通对象并接入清扫链表。
// 代 = 0，装箱字段全部为空引用。带析构钩子的类应当使用此路径。
func (h *Heap) AllocObjectTenured(fieldCount uint32, unboxSize uint32, class int) Ref {
	h.assert(unboxSize <= maxUnboxSize, "unbox prefix larger than 7")
	h.assert(unboxSize <= fieldCount, "unbox prefix larger than the field count")
	h.assert(class >= 0 && class < h.classCount, "unregistered class index")

	p := h.tenureAlloc(uint64(fieldCount) + headerWords)
	h.tenureWords += uint64(fieldCount) + headerWords
	h.writeHeader(p, TypeObject, fieldCount, unboxSize, class, 0)
	h.linkTenure(p)
	return p
}

// AllocUnboxArrayTenured 直接在老年代分配非装箱数组。
func (h *Heap) AllocUnboxArrayTenured(size uint32) Ref {
	p := h.tenureAlloc(uint64(size) + headerWords)
	h.tenureWords += uint64(size) + headerWords
	h.writeHeader(p, TypeUnboxArray, size, 0, 0, 0)
	h.linkTenure(p)
	return p
}

// AllocBoxArrayTenured 直接在老年代分配装箱数组。
func (h *Heap) AllocBoxArrayTenured(size uint32) Ref {
	p := h.tenureAlloc(uint64(size) + headerWords)
	h.tenureWords += uint64(size) + headerWords
	h.writeHeader(p, TypeBoxArray, size, 0, 0, 0)
	h.linkTenure(p)
	return p
}

// ForceMinor 运行一次复制回收，返回存活对象数。
func (h *Heap) ForceMinor() uint64 { return h.Scavenge() }

// ForceMajor 运行一次标记清扫，返回存活对象数。
func (h *Heap) ForceMajor() uint64 { return h.MarkSweep() }

func (h *Heap) assert(cond bool, msg string) {
	if CheckInvariants && !cond {
		panic("genheap: " + msg)
	}
}
