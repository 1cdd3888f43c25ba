package heap

import "fmt"

// ============================================================================
// 类型描述符
// ============================================================================
//
// 源头的逐对象虚析构在这里变成按标签查表：两位对象类型选出数组
// 描述符，普通对象再用头部 48-53 位的类索引在类表中分派。清扫
// 阶段释放老年代对象前调用描述符的析构钩子。
//
// 析构钩子只在清扫时运行。需要钩子的对象应当直接分配在老年代
// （AllocObjectTenured），幼年代对象未被复制时是直接丢弃的。

// maxClasses 类索引是头部中的 6 位
const maxClasses = 64

// classObject 保留给没有钩子的普通对象
const classObject = 0

// Finalizer 清扫释放对象前调用的析构钩子。钩子内不得分配，也
// 不得复活对象。
type Finalizer func(h *Heap, p Ref)

// TypeDesc 类型描述符
type TypeDesc struct {
	Name     string
	Finalize Finalizer
}

var (
	unboxArrayDesc = TypeDesc{Name: "unbox_array"}
	boxArrayDesc   = TypeDesc{Name: "box_array"}
)

// RegisterClass 注册一个类型描述符，返回分配用的类索引。
// 索引 0 预先注册为无钩子的普通对象。
func (h *Heap) RegisterClass(name string, fin Finalizer) (int, error) {
	if h.classCount >= maxClasses {
		return 0, fmt.Errorf("genheap: class table full (%d classes)", maxClasses)
	}
	idx := h.classCount
	h.classes[idx] = TypeDesc{Name: name, Finalize: fin}
	h.classCount++
	return idx, nil
}

// Describe 对象的类型描述符。
func (h *Heap) Describe(p Ref) TypeDesc {
	switch h.ObjectType(p) {
	case TypeUnboxArray:
		return unboxArrayDesc
	case TypeBoxArray:
		return boxArrayDesc
	default:
		return h.classes[h.ClassIndex(p)]
	}
}

// finalizeObject 清扫释放前的钩子分派。
func (h *Heap) finalizeObject(p Ref) {
	if desc := h.Describe(p); desc.Finalize != nil {
		desc.Finalize(h, p)
	}
}
