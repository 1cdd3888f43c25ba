package heap

import "github.com/tangzhangming/genheap/boxing"

// ============================================================================
// 写屏障与记忆集
// ============================================================================
//
// 屏障基于指针而不是卡表：老年代对象一旦收到指向幼年代的指针，
// 整个对象进入记忆集，由 remember 位做惰性去重。记忆集是仅追加
// 的日志，复制回收把它作为附加根扫描，标记清扫将其整体清空。

// writeBarrier 指针存储的写屏障。
//
// value 是非空指针、目标的代计数非零（幼年代）、且 self 可被记忆
// （代为 0 且 remember 位为 0）时，置位 remember 并把 self 压入
// 记忆集。其余存储不做任何事。
func (h *Heap) writeBarrier(self Ref, value boxing.Word) boxing.Word {
	if value != boxing.Null && value.IsRef() && h.canRemember(self) &&
		h.Generation(Ref(value.AsRef())) > 0 {
		h.setRemember(self)
		h.remember = append(h.remember, self)
	}
	return value
}

// canRemember 代为 0 且 remember 位为 0。单次掩码测试覆盖
// remember 位和两个代位。
func (h *Heap) canRemember(p Ref) bool {
	return h.header1(p)&(7<<rememberShift) == 0
}

// RememberSetLen 记忆集当前长度（不含已清空的槽位），用于测试与统计。
func (h *Heap) RememberSetLen() int {
	n := 0
	for _, p := range h.remember {
		if p != 0 {
			n++
		}
	}
	return n
}
