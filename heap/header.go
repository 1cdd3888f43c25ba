package heap

import "github.com/tangzhangming/genheap/boxing"

// ============================================================================
// 对象头
// ============================================================================
//
// 每个托管对象以两个 64 位字的头部开始：
//
//	Header1
//	  对象类型:      2 位, 62-63
//	  非装箱前缀:    3 位, 59-61
//	  GC 代计数:     2 位, 57-58 (0 表示老年代)
//	  remember 位:   1 位, 56
//	  GC 标记:       2 位, 54-55 (初始值为 0)
//	  类索引:        6 位, 48-53
//	  下一对象指针或
//	  转发指针:     48 位, 0-47
//
//	Header2
//	  哈希值:       32 位, 32-63
//	  字段数:       32 位, 0-31
//
// 48 位链接字段按位置区分用途：幼年代中是转发指针（存活对象为
// 空），老年代中是清扫链表的下一对象指针。

// Ref 托管地址：后备缓冲区中的字索引。0 是空引用。
type Ref uint64

// ObjectType 对象类型标签
type ObjectType byte

const (
	// TypeObject 普通对象
	TypeObject ObjectType = 0
	// TypeUnboxArray 全部字段为原始值的数组，从不扫描
	TypeUnboxArray ObjectType = 1
	// TypeBoxArray 全部字段为装箱值的数组
	TypeBoxArray ObjectType = 2
)

const (
	// headerWords 头部占用的字数
	headerWords = 2

	// maxUnboxSize 非装箱前缀的上限
	maxUnboxSize = 7

	low48 = ^uint64(0) >> 16

	typeShift     = 62
	unboxShift    = 59
	genShift      = 57
	rememberShift = 56
	markShift     = 54
	classShift    = 48

	genMask      = uint64(3) << genShift
	rememberMask = uint64(1) << rememberShift
	markMask     = uint64(3) << markShift
	classMask    = uint64(63) << classShift
)

func (h *Heap) header1(p Ref) uint64 { return h.words[p] }
func (h *Heap) header2(p Ref) uint64 { return h.words[p+1] }

// ObjectType 对象类型。
func (h *Heap) ObjectType(p Ref) ObjectType {
	return ObjectType(h.header1(p) >> typeShift & 3)
}

// hasBoxed 对象是否含有装箱字段（普通对象和装箱数组）。
func (h *Heap) hasBoxed(p Ref) bool {
	return h.header1(p)>>typeShift&1 == 0
}

// UnboxSize 起始若干个存放原始值的字段数。原始字段从不是指针。0..7
func (h *Heap) UnboxSize(p Ref) uint32 {
	return uint32(h.header1(p) >> unboxShift & 7)
}

// Generation GC 代计数。0..3，0 表示老年代。
func (h *Heap) Generation(p Ref) int {
	return int(h.header1(p) >> genShift & 3)
}

func (h *Heap) setGeneration(p Ref, g int) {
	h.words[p] = h.header1(p)&^genMask | uint64(g&3)<<genShift
}

// incGeneration 代计数加一。回绕到 00 时返回 true（此对象晋升）。
func (h *Heap) incGeneration(p Ref) bool {
	gen := (h.header1(p) + 1<<genShift) & genMask
	h.words[p] = gen | h.header1(p)&^genMask
	return gen == 0
}

// Remembered remember 位。
func (h *Heap) Remembered(p Ref) bool {
	return h.header1(p)&rememberMask != 0
}

func (h *Heap) setRemember(p Ref)   { h.words[p] |= rememberMask }
func (h *Heap) resetRemember(p Ref) { h.words[p] &^= rememberMask }

// flipRemember remember 位取反，0 变 1 或 1 变 0。
func (h *Heap) flipRemember(p Ref) { h.words[p] ^= rememberMask }

// Mark GC 标记位。0..3
func (h *Heap) Mark(p Ref) int {
	return int(h.header1(p) >> markShift & 3)
}

// setMark 设置标记位并返回旧值。
func (h *Heap) setMark(p Ref, value int) int {
	old := h.header1(p) & markMask >> markShift
	h.words[p] = uint64(value)<<markShift&markMask | h.header1(p)&^markMask
	return int(old)
}

// ClassIndex 普通对象的类型描述符索引。0..63
func (h *Heap) ClassIndex(p Ref) int {
	return int(h.header1(p) >> classShift & 63)
}

func (h *Heap) setClassIndex(p Ref, idx int) {
	h.words[p] = h.header1(p)&^classMask | uint64(idx&63)<<classShift
}

// forward 转发指针视图。仅在幼年代有效。
func (h *Heap) forward(p Ref) Ref {
	h.assert(h.inNursery(p), "forward pointer read outside the nursery")
	return Ref(h.header1(p) & low48)
}

// setForward 记录转发指针。对象随后视为已搬走，头部其余位作废。
func (h *Heap) setForward(p Ref, dest Ref) {
	h.assert(h.inNursery(p), "forward pointer write outside the nursery")
	h.words[p] = uint64(dest)
}

// next 清扫链表视图。仅对老年代对象有效，与转发指针共用存储。
func (h *Heap) next(p Ref) Ref {
	h.assert(h.Generation(p) == 0, "next-object link read on a young object")
	return Ref(h.header1(p) & low48)
}

// setNext 设置下一对象指针，保留头部元数据位。
func (h *Heap) setNext(p Ref, obj Ref) {
	h.assert(h.Generation(p) == 0, "next-object link write on a young object")
	h.words[p] = h.header1(p)&^low48 | uint64(obj)&low48
}

// FieldCount 对象字段数（64 位字）。
func (h *Heap) FieldCount(p Ref) uint32 {
	return uint32(h.header2(p))
}

// Hash 分配时从初始地址派生的稳定 32 位哈希。复制时随头部原样保留。
func (h *Heap) Hash(p Ref) uint32 {
	return uint32(h.header2(p) >> 32)
}

// objectWords 对象占用的总字数（头部加字段）。
func (h *Heap) objectWords(p Ref) uint64 {
	return uint64(h.FieldCount(p)) + headerWords
}

// GetField 读取索引处的装箱字段。
func (h *Heap) GetField(p Ref, index uint32) boxing.Word {
	h.assert(index >= h.UnboxSize(p) && index < h.FieldCount(p), "boxed field index out of range")
	return boxing.Word(h.words[p+headerWords+Ref(index)])
}

// SetField 写入索引处的装箱字段。指针存储经过写屏障。
func (h *Heap) SetField(p Ref, index uint32, value boxing.Word) {
	h.assert(index >= h.UnboxSize(p) && index < h.FieldCount(p), "boxed field index out of range")
	h.writeBarrier(p, value)
	h.words[p+headerWords+Ref(index)] = uint64(value)
}

// setFieldNoBarrier 收集器内部的字段写入，不经过写屏障。
func (h *Heap) setFieldNoBarrier(p Ref, index uint32, value boxing.Word) {
	h.words[p+headerWords+Ref(index)] = uint64(value)
}

// GetRaw 读取索引处的原始字段（非装箱前缀或非装箱数组的元素）。
func (h *Heap) GetRaw(p Ref, index uint32) uint64 {
	h.assert(index < h.FieldCount(p), "raw field index out of range")
	return h.words[p+headerWords+Ref(index)]
}

// SetRaw 写入索引处的原始字段。原始字段从不被扫描，没有屏障。
func (h *Heap) SetRaw(p Ref, index uint32, value uint64) {
	h.assert(index < h.FieldCount(p), "raw field index out of range")
	h.words[p+headerWords+Ref(index)] = value
}

// writeHeader 在 p 处写入一个新对象的头部。装箱字段由调用方保证已清零。
func (h *Heap) writeHeader(p Ref, typ ObjectType, fieldCount uint32, unboxSize uint32, class int, gen int) {
	h.words[p] = uint64(typ)&3<<typeShift |
		uint64(unboxSize)&7<<unboxShift |
		uint64(gen&3)<<genShift |
		uint64(class&63)<<classShift
	h.words[p+1] = uint64(uint32(p))<<32 | uint64(fieldCount)
}
