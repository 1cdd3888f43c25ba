package heap

import (
	"time"

	"github.com/tangzhangming/genheap/boxing"
)

// ============================================================================
// 标记清扫（Major GC）
// ============================================================================
//
// 标记位是两位三态值：当前标记值在 1 和 3 之间翻转，新对象的 0
// 永远不等于任何一个，所以不需要对存活对象做预清零。清扫只走
// 老年代链表；标记会覆盖影子栈可达的全部对象，包括幼年代对象。

// markSweepIfNeeded 老年代占用达到阈值时做一次标记清扫。回收后
// 占用仍超过阈值的 70% 时，把阈值提高到当前占用的 1.5 倍，
// 形成滞后，约束摊还的标记清扫频率。
func (h *Heap) markSweepIfNeeded() uint64 {
	if h.tenureLimit > h.tenureWords {
		return 0
	}
	live := h.MarkSweep()
	if h.tenureLimit*7/10 < h.tenureWords {
		h.tenureLimit = h.tenureWords * 3 / 2
	}
	return live
}

// MarkSweep 做一次标记清扫，返回从影子栈可达的全部存活对象数。
func (h *Heap) MarkSweep() uint64 {
	h.markSweepGCCount++
	start := time.Now()
	h.log.Major(h.tenureWords * wordBytes)

	// 排空记忆集：标记清扫让逐对象的老到幼追踪失去意义，
	// 下一次复制回收的写屏障会重建它
	for i := len(h.remember) - 1; i >= 0; i-- {
		if obj := h.remember[i]; obj != 0 {
			h.resetRemember(obj)
		}
	}
	h.remember = h.remember[:0]

	var live uint64
	mark := h.currentMark

	visited := make([]Ref, 0, 1024)

	// 根标记
	for i := h.shadow.Depth() - 1; i >= 0; i-- {
		p := h.shadow.refs[i]
		if p != 0 && h.setMark(p, mark) != mark {
			live++
			visited = append(visited, p)
		}
	}

	// 深度优先访问。遍历到的每条指针边施加一次与写屏障等价的
	// 登记，跨越阶段切换保持记忆语义。
	for len(visited) > 0 {
		obj := visited[len(visited)-1]
		visited = visited[:len(visited)-1]
		if !h.hasBoxed(obj) {
			continue
		}
		fsize := h.FieldCount(obj)
		for i := h.UnboxSize(obj); i < fsize; i++ {
			v := h.GetField(obj, i)
			if v.IsRef() {
				p := Ref(v.AsRef())
				if p != 0 {
					h.writeBarrier(obj, boxing.FromRef(uint64(p)))
					if h.setMark(p, mark) != mark {
						visited = append(visited, p)
						live++
					}
				}
			}
		}
	}

	// 清扫：沿链表摘除标记不等于当前值的节点，调用其析构钩子
	// 并把存储退回空闲链。prev 为 0 表示位于链表头。
	var prev Ref
	var swept int64
	for {
		var head Ref
		if prev == 0 {
			head = h.tenureHead
		} else {
			head = h.next(prev)
		}
		node := head
		for node != 0 && h.Mark(node) != mark {
			size := h.objectWords(node)
			h.tenureWords -= size
			dead := node
			node = h.next(node)
			h.finalizeObject(dead)
			h.tenureFree(dead, size)
			swept++
		}
		if node != head {
			if prev == 0 {
				h.tenureHead = node
			} else {
				h.setNext(prev, node)
			}
		}
		if node == 0 {
			break
		}
		prev = node
	}

	// 翻转当前标记值，下一次使用与任何残留标记都不同的新值
	h.currentMark ^= 2

	h.prof.RecordMajor(time.Since(start), int64(live), swept)
	return live
}
