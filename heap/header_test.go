package heap

import "testing"

func newTestHeap(t *testing.T, youngWords uint64) *Heap {
	t.Helper()
	h, err := New(Config{YoungWords: youngWords, StackSlots: 64})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func TestHeaderFields(t *testing.T) {
	h := newTestHeap(t, 1024)

	p, err := h.AllocObject(5, 2, 0)
	if err != nil {
		t.Fatalf("AllocObject failed: %v", err)
	}

	if got := h.ObjectType(p); got != TypeObject {
		t.Errorf("ObjectType = %d, want TypeObject", got)
	}
	if got := h.UnboxSize(p); got != 2 {
		t.Errorf("UnboxSize = %d, want 2", got)
	}
	if got := h.FieldCount(p); got != 5 {
		t.Errorf("FieldCount = %d, want 5", got)
	}
	if got := h.Generation(p); got != 1 {
		t.Errorf("Generation = %d, want 1 for a new nursery object", got)
	}
	if h.Remembered(p) {
		t.Error("new object has remember bit set")
	}
	if got := h.Mark(p); got != 0 {
		t.Errorf("Mark = %d, want 0", got)
	}
	if got := h.forward(p); got != 0 {
		t.Errorf("forward = %d, want null", got)
	}
	if got := h.Hash(p); got != uint32(p) {
		t.Errorf("Hash = %d, want %d", got, uint32(p))
	}
}

func TestHeaderArrayTypes(t *testing.T) {
	h := newTestHeap(t, 1024)

	ua, _ := h.AllocUnboxArray(3)
	ba, _ := h.AllocBoxArray(3)

	if got := h.ObjectType(ua); got != TypeUnboxArray {
		t.Errorf("unbox array type = %d", got)
	}
	if got := h.ObjectType(ba); got != TypeBoxArray {
		t.Errorf("box array type = %d", got)
	}
	if h.hasBoxed(ua) {
		t.Error("unbox array reported as containing boxed values")
	}
	if !h.hasBoxed(ba) {
		t.Error("box array reported as not containing boxed values")
	}
	if got := h.UnboxSize(ua); got != 0 {
		t.Errorf("array UnboxSize = %d, want 0", got)
	}
}

func TestGenerationCounter(t *testing.T) {
	h := newTestHeap(t, 1024)
	p, _ := h.AllocObject(0, 0, 0)

	// 1 -> 2 -> 3 -> 0：第三次递增报告回绕
	for i, wantWrap := range []bool{false, false, true} {
		if got := h.incGeneration(p); got != wantWrap {
			t.Errorf("increment %d: wrap = %v, want %v", i+1, got, wantWrap)
		}
	}
	if got := h.Generation(p); got != 0 {
		t.Errorf("Generation after wrap = %d, want 0", got)
	}

	h.setGeneration(p, 3)
	if got := h.Generation(p); got != 3 {
		t.Errorf("setGeneration(3) = %d", got)
	}
}

func TestMarkBits(t *testing.T) {
	h := newTestHeap(t, 1024)
	p, _ := h.AllocObject(0, 0, 0)

	if old := h.setMark(p, 1); old != 0 {
		t.Errorf("setMark returned old = %d, want 0", old)
	}
	if old := h.setMark(p, 3); old != 1 {
		t.Errorf("setMark returned old = %d, want 1", old)
	}
	if got := h.Mark(p); got != 3 {
		t.Errorf("Mark = %d, want 3", got)
	}
}

func TestRememberBit(t *testing.T) {
	h := newTestHeap(t, 1024)
	p, _ := h.AllocObject(1, 0, 0)

	h.setRemember(p)
	if !h.Remembered(p) {
		t.Error("remember bit not set")
	}
	// remember 位不应干扰相邻的代位和标记位
	if got := h.Generation(p); got != 1 {
		t.Errorf("Generation disturbed by remember bit: %d", got)
	}
	if got := h.Mark(p); got != 0 {
		t.Errorf("Mark disturbed by remember bit: %d", got)
	}
	h.resetRemember(p)
	if h.Remembered(p) {
		t.Error("remember bit not cleared")
	}

	h.flipRemember(p)
	if !h.Remembered(p) {
		t.Error("flip from 0 did not set the remember bit")
	}
	h.flipRemember(p)
	if h.Remembered(p) {
		t.Error("flip from 1 did not clear the remember bit")
	}
}

func TestNextLinkPreservesMetadata(t *testing.T) {
	h := newTestHeap(t, 1024)
	p := h.AllocObjectTenured(2, 1, 0)
	q := h.AllocObjectTenured(0, 0, 0)

	h.setRemember(p)
	h.setMark(p, 3)
	h.setNext(p, q)

	if got := h.next(p); got != q {
		t.Errorf("next = %d, want %d", got, q)
	}
	if got := h.UnboxSize(p); got != 1 {
		t.Errorf("UnboxSize destroyed by setNext: %d", got)
	}
	if !h.Remembered(p) {
		t.Error("remember bit destroyed by setNext")
	}
	if got := h.Mark(p); got != 3 {
		t.Errorf("mark destroyed by setNext: %d", got)
	}
	if got := h.Generation(p); got != 0 {
		t.Errorf("generation destroyed by setNext: %d", got)
	}
}

func TestFieldAccess(t *testing.T) {
	h := newTestHeap(t, 1024)
	p, _ := h.AllocObject(4, 2, 0)

	// 原始前缀
	h.SetRaw(p, 0, 0xdeadbeef)
	h.SetRaw(p, 1, ^uint64(0))
	if got := h.GetRaw(p, 0); got != 0xdeadbeef {
		t.Errorf("GetRaw(0) = %#x", got)
	}
	if got := h.GetRaw(p, 1); got != ^uint64(0) {
		t.Errorf("GetRaw(1) = %#x", got)
	}

	// 装箱字段初始为空引用
	for i := uint32(2); i < 4; i++ {
		if got := h.GetField(p, i); got != 0 {
			t.Errorf("boxed field %d not null after allocation: %#x", i, uint64(got))
		}
	}
}

func TestClassIndex(t *testing.T) {
	h := newTestHeap(t, 1024)
	idx, err := h.RegisterClass("widget", nil)
	if err != nil {
		t.Fatalf("RegisterClass failed: %v", err)
	}
	p, _ := h.AllocObject(1, 0, idx)
	if got := h.ClassIndex(p); got != idx {
		t.Errorf("ClassIndex = %d, want %d", got, idx)
	}
	if got := h.Describe(p).Name; got != "widget" {
		t.Errorf("Describe().Name = %q, want widget", got)
	}
}
