package heap

import (
	"testing"

	"github.com/tangzhangming/genheap/boxing"
)

// 清扫释放对象前调用注册的析构钩子，存活对象不触发。
func TestFinalizerRunsOnSweep(t *testing.T) {
	h := newTestHeap(t, 1024)
	s := h.Shadow()

	var finalized []uint32
	idx, err := h.RegisterClass("resource", func(h *Heap, p Ref) {
		finalized = append(finalized, h.Hash(p))
	})
	if err != nil {
		t.Fatalf("RegisterClass failed: %v", err)
	}

	dead := h.AllocObjectTenured(1, 0, idx)
	liveObj := h.AllocObjectTenured(1, 0, idx)
	deadHash := h.Hash(dead)

	s.Expand(1)
	s.Set(0, liveObj)

	h.ForceMajor()

	if len(finalized) != 1 || finalized[0] != deadHash {
		t.Errorf("finalized = %v, want exactly the dead object (hash %d)", finalized, deadHash)
	}

	// 存活对象在下一轮脱根后也经历钩子
	s.Shrink(1)
	h.ForceMajor()
	if len(finalized) != 2 {
		t.Errorf("finalizer ran %d times in total, want 2", len(finalized))
	}
}

// 标记清扫后，老年代链表上的每个对象标记都等于本轮标记值，
// 且链表恰好是可达老年代对象的集合。
func TestSweepKeepsExactlyReachable(t *testing.T) {
	h := newTestHeap(t, 1024)
	s := h.Shadow()
	s.Expand(1)

	keep := h.AllocBoxArrayTenured(2)
	s.Set(0, keep)
	h.AllocBoxArrayTenured(2) // 垃圾
	h.AllocBoxArrayTenured(2) // 垃圾

	usedMark := h.currentMark
	live := h.ForceMajor()
	if live != 1 {
		t.Errorf("live objects = %d, want 1", live)
	}

	count := 0
	for p := h.tenureHead; p != 0; p = h.next(p) {
		count++
		if got := h.Mark(p); got != usedMark {
			t.Errorf("surviving object mark = %d, want %d", got, usedMark)
		}
	}
	if count != 1 {
		t.Errorf("tenure list holds %d objects, want 1", count)
	}
	if got := h.TenureSize(); got != 4 {
		t.Errorf("TenureSize = %d, want 4", got)
	}
}

// 存活节点保持原有链表顺序。
func TestSweepPreservesOrder(t *testing.T) {
	h := newTestHeap(t, 1024)
	s := h.Shadow()
	s.Expand(3)

	var want []Ref
	for i := 0; i < 3; i++ {
		p := h.AllocBoxArrayTenured(1)
		h.AllocBoxArrayTenured(1) // 间插垃圾
		s.Set(i, p)
		// 链表头插，遍历顺序与分配顺序相反
		want = append([]Ref{p}, want...)
	}

	h.ForceMajor()

	var got []Ref
	for p := h.tenureHead; p != 0; p = h.next(p) {
		got = append(got, p)
	}
	if len(got) != len(want) {
		t.Fatalf("tenure list holds %d objects, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("list[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

// 标记阶段遍历老到幼的边时施加等价写屏障：老年代对象在标记后
// 仍然被记忆，随后的复制回收不会漏掉它指向的幼年代对象。
func TestMarkReenrollsOldToYoungEdges(t *testing.T) {
	h := newTestHeap(t, 1024)
	s := h.Shadow()
	s.Expand(1)

	src := h.AllocBoxArrayTenured(1)
	s.Set(0, src)
	young, _ := h.AllocUnboxArray(1)
	h.SetRaw(young, 0, 77)
	h.SetField(src, 0, boxing.FromRef(uint64(young)))

	// 标记清扫先排空记忆集，再在遍历中重新登记 src
	h.ForceMajor()
	if !h.Remembered(src) {
		t.Fatal("old-to-young edge lost its remember bit across a major GC")
	}
	if got := h.RememberSetLen(); got != 1 {
		t.Fatalf("remember set size = %d after re-enrollment, want 1", got)
	}

	live := h.ForceMinor()
	if live != 1 {
		t.Errorf("live objects = %d, want the young target", live)
	}
	target := Ref(h.GetField(src, 0).AsRef())
	if got := h.GetRaw(target, 0); got != 77 {
		t.Errorf("young payload = %d, want 77", got)
	}
}

// 阈值触发与滞后：回收后占用低于阈值 70% 时阈值保持不变。
func TestThresholdUnchangedBelowHysteresis(t *testing.T) {
	h := newTestHeap(t, 128) // tenureLimit = 256

	// 全部是垃圾：触发后占用归零，阈值不变
	for i := 0; i < 30; i++ {
		h.AllocBoxArrayTenured(8)
	}
	if h.TenureSize() < h.tenureLimit {
		t.Fatalf("test setup: tenure %d below limit", h.TenureSize())
	}

	h.markSweepIfNeeded()
	if got := h.TenureSize(); got != 0 {
		t.Errorf("TenureSize = %d, want 0 after sweeping garbage", got)
	}
	if got := h.tenureLimit; got != 256 {
		t.Errorf("tenure limit = %d, want unchanged 256", got)
	}
	if got := h.markSweepGCCount; got != 1 {
		t.Errorf("mark-sweep count = %d, want 1", got)
	}

	// 低于阈值时不触发
	h.markSweepIfNeeded()
	if got := h.markSweepGCCount; got != 1 {
		t.Errorf("mark-sweep ran below the threshold (count %d)", got)
	}
}

// 连续两轮标记清扫使用不同的标记值。
func TestMarkValueAlternates(t *testing.T) {
	h := newTestHeap(t, 1024)

	first := h.currentMark
	h.ForceMajor()
	second := h.currentMark
	h.ForceMajor()
	third := h.currentMark

	if first == second {
		t.Error("mark value repeated between consecutive major GCs")
	}
	if first != third {
		t.Errorf("mark value should alternate: %d %d %d", first, second, third)
	}
}

// 清扫释放的单元回到空闲链，被后续老年代分配复用。
func TestTenureCellReuse(t *testing.T) {
	h := newTestHeap(t, 1024)

	dead := h.AllocBoxArrayTenured(6)
	deadAddr := dead
	h.ForceMajor()
	if got := h.TenureSize(); got != 0 {
		t.Fatalf("TenureSize = %d after sweep, want 0", got)
	}

	reused := h.AllocBoxArrayTenured(6)
	if reused != deadAddr {
		t.Errorf("freed cell at %d not reused, got %d", deadAddr, reused)
	}
	// 复用的单元必须干净
	for i := uint32(0); i < 6; i++ {
		if got := h.GetField(reused, i); got != boxing.Null {
			t.Errorf("reused cell field %d = %#x, want null", i, uint64(got))
		}
	}
}

// 拆分大块后剩余部分留在空闲链上。
func TestTenureFreeListSplit(t *testing.T) {
	h := newTestHeap(t, 1024)

	big := h.AllocBoxArrayTenured(14) // 16 字
	h.ForceMajor()

	small := h.AllocBoxArrayTenured(2) // 4 字，从 16 字块头部切出
	if small != big {
		t.Errorf("small allocation at %d, want head of the freed block %d", small, big)
	}
	rest := h.AllocBoxArrayTenured(10) // 12 字，恰好吃掉剩余
	if rest != big+4 {
		t.Errorf("second allocation at %d, want split remainder %d", rest, big+4)
	}
}
