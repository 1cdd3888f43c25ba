package main

import (
	"fmt"

	"github.com/tangzhangming/genheap/boxing"
	"github.com/tangzhangming/genheap/heap"
)

func main() {
	h, err := heap.NewMiB(16, 1)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer h.Close()

	s := h.Shadow()
	s.Expand(1)

	outer, _ := h.AllocBoxArray(4)
	s.Set(0, outer)
	inner, _ := h.AllocUnboxArray(8)
	h.SetRaw(inner, 0, 12345)
	h.SetField(outer, 2, boxing.FromRef(uint64(inner)))

	live := h.ForceMinor()
	fmt.Println("live objects:", live)

	outer = s.Get(0)
	inner = heap.Ref(h.GetField(outer, 2).AsRef())
	fmt.Println("payload:", h.GetRaw(inner, 0))
	fmt.Println("tenure MiB:", h.TenureSizeMiB())
}
