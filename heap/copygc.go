package heap

import (
	"time"

	"github.com/tangzhangming/genheap/boxing"
)

// ============================================================================
// 复制回收（Minor GC）
// ============================================================================
//
// 带分代晋升的 Cheney 扫描。根来自影子栈和记忆集；扫描循环与
// 晋升对象排空交错进行，使晋升对象自身也被扫描并能带出更多
// 复制。结束时两个半区交换身份。

// Scavenge 对幼年代做一次复制回收，返回存活（被复制或晋升的）
// 对象数。
func (h *Heap) Scavenge() uint64 {
	h.copyGCCount++
	start := time.Now()
	h.log.Minor()

	var live uint64
	allocPtr := h.semi1
	scanPtr := h.semi1

	// 根扫描：改写影子栈上指向幼年代的指针
	for i := h.shadow.Depth() - 1; i >= 0; i-- {
		p := h.shadow.refs[i]
		if h.inNursery(p) {
			h.shadow.refs[i] = h.copyAndForward(p, &allocPtr, &live)
		}
	}

	// 记忆集扫描：扫描后不再指向幼年代的对象清除 remember 位并清空槽位
	for i := len(h.remember) - 1; i >= 0; i-- {
		obj := h.remember[i]
		if obj != 0 {
			if !h.scanObject(obj, scanRemember, &allocPtr, &live) {
				h.resetRemember(obj)
				h.remember[i] = 0
			}
		}
	}

	// 晋升对象排空与 Cheney 循环交错
	h.scanPromoted(&allocPtr, &live)
	for scanPtr < allocPtr {
		obj := scanPtr
		fsize := h.FieldCount(obj)
		h.scanObject(obj, scanPlain, &allocPtr, &live)
		scanPtr += Ref(fsize) + headerWords
		h.scanPromoted(&allocPtr, &live)
	}

	// 半区翻转
	h.semi0, h.semi1 = h.semi1, h.semi0
	h.currentTop = allocPtr
	h.currentEnd = h.semi0 + Ref(h.semiSpaceWords)

	// 修剪记忆集尾部的空槽，日志不会跨回收无界增长
	for n := len(h.remember); n > 0 && h.remember[n-1] == 0; n = len(h.remember) {
		h.remember = h.remember[:n-1]
	}

	h.prof.RecordMinor(time.Since(start), int64(live))
	return live
}

// scanMode 字段扫描的口味。REMEMBER 口味额外报告扫描后是否仍有
// 字段指向幼年代；普通口味是热路径，不触碰 remember 位。
type scanMode bool

const (
	scanPlain    scanMode = false
	scanRemember scanMode = true
)

// scanObject 扫描对象的装箱字段，把指向幼年代的指针替换为复制后
// 的指针。mode 为 scanRemember 时返回对象此后是否仍须被记忆
// （字段可能仍指向留在新半区的幸存者）。
func (h *Heap) scanObject(obj Ref, mode scanMode, allocPtr *Ref, live *uint64) bool {
	remember := false
	if h.hasBoxed(obj) {
		fsize := h.FieldCount(obj)
		for i := h.UnboxSize(obj); i < fsize; i++ {
			v := h.GetField(obj, i)
			if v.IsRef() {
				p := Ref(v.AsRef())
				if h.inNursery(p) {
					dest := h.copyAndForward(p, allocPtr, live)
					h.setFieldNoBarrier(obj, i, boxing.FromRef(uint64(dest)))
					if mode == scanRemember && h.inNursery(dest) {
						remember = true
					}
				}
			}
		}
	}
	return remember
}

// copyAndForward 复制 p 并记录转发指针，重复到达的引用合并到同一
// 目的地址。代计数回绕时晋升：分配独立的老年代单元，原样复制头部
// 与字段（保留哈希），压入晋升队列等待排空。
func (h *Heap) copyAndForward(p Ref, allocPtr *Ref, live *uint64) Ref {
	dest := h.forward(p)
	if dest == 0 {
		*live++
		size := h.objectWords(p)
		if h.incGeneration(p) {
			h.tenureWords += size
			dest = h.tenureAlloc(size)
			copy(h.words[dest:dest+Ref(size)], h.words[p:p+Ref(size)])
			h.promoted = append(h.promoted, dest)
			h.prof.RecordPromotion()
		} else {
			dest = *allocPtr
			copy(h.words[dest:dest+Ref(size)], h.words[p:p+Ref(size)])
			*allocPtr = dest + Ref(size)
		}
		h.setForward(p, dest)
	}
	return dest
}

// scanPromoted 排空晋升队列：按 REMEMBER 口味扫描每个晋升对象，
// 字段仍指向幼年代的进入记忆集，然后接入清扫链表。
func (h *Heap) scanPromoted(allocPtr *Ref, live *uint64) {
	for len(h.promoted) > 0 {
		p := h.promoted[len(h.promoted)-1]
		h.promoted = h.promoted[:len(h.promoted)-1]
		if h.scanObject(p, scanRemember, allocPtr, live) {
			h.setRemember(p)
			h.remember = append(h.remember, p)
		}
		h.linkTenure(p)
	}
}
