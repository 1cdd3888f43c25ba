package heap

// ============================================================================
// 老年代区分配
// ============================================================================
//
// 老年代单元从后备缓冲区的尾部区域划出：优先复用空闲链表上的块
// （首次适应），没有合适的块时向尾部追加。追加只增长切片长度，
// 字索引保持稳定，因此已发出的托管地址不会失效。
//
// 空闲块借用自身存储记账：第 0 个字是块大小（字数），第 1 个字是
// 下一个空闲块的索引。每个对象至少占两个头部字，所以任何释放的
// 块都装得下这两项。不做相邻块合并。

// tenureAlloc 分配 wcount 个字的老年代单元，内容已清零。
func (h *Heap) tenureAlloc(wcount uint64) Ref {
	var prev Ref
	for p := h.freeList; p != 0; p = Ref(h.words[p+1]) {
		size := h.words[p]
		if size == wcount || size >= wcount+headerWords {
			next := Ref(h.words[p+1])
			if size > wcount {
				// 从块尾切出剩余部分留在空闲链上
				rest := p + Ref(wcount)
				h.words[rest] = size - wcount
				h.words[rest+1] = uint64(next)
				next = rest
			}
			if prev == 0 {
				h.freeList = next
			} else {
				h.words[prev+1] = uint64(next)
			}
			for i := Ref(0); i < Ref(wcount); i++ {
				h.words[p+i] = 0
			}
			return p
		}
		prev = p
	}

	p := Ref(len(h.words))
	h.words = append(h.words, make([]uint64, wcount)...)
	return p
}

// tenureFree 把一个老年代单元退回空闲链表。
func (h *Heap) tenureFree(p Ref, wcount uint64) {
	h.words[p] = wcount
	h.words[p+1] = uint64(h.freeList)
	h.freeList = p
}

// linkTenure 把对象接到清扫链表头部。
func (h *Heap) linkTenure(p Ref) {
	h.setNext(p, h.tenureHead)
	h.tenureHead = p
}
