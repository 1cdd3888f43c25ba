// heapstress 托管堆的宿主嵌入驱动
//
// 按配置创建堆，跑若干轮分配压力（链表翻炒、晋升翻炒、环状
// 垃圾），最后输出统计快照。用于手工观察回收行为和调参。
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/inhies/go-bytesize"
	"github.com/tangzhangming/genheap/boxing"
	"github.com/tangzhangming/genheap/heap"
	"github.com/tangzhangming/genheap/internal/config"
)

var (
	configPath = flag.String("config", "", "Load heap.toml from this path")
	youngSize  = flag.String("young", "", "Semi-space size, e.g. 16MB (overrides config)")
	stackSize  = flag.String("stack", "", "Shadow stack size, e.g. 1MB (overrides config)")
	debugLevel = flag.Int("debug", -1, "Debug level 0-2 (overrides config)")
	iterations = flag.Int("iters", 10000, "Stress iterations per scenario")
	jsonOut    = flag.Bool("json", false, "Print statistics as JSON")
	statsPath  = flag.String("stats", "", "Write statistics JSON to this path on close")
)

func main() {
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *youngSize != "" {
		cfg.Heap.YoungSize = *youngSize
	}
	if *stackSize != "" {
		cfg.Heap.StackSize = *stackSize
	}
	if *debugLevel >= 0 {
		cfg.Heap.Debug = *debugLevel
	}
	if *statsPath != "" {
		cfg.Heap.StatsPath = *statsPath
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	youngWords, err := cfg.YoungWords()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	stackSlots, err := cfg.StackSlots()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	h, err := heap.New(heap.Config{
		YoungWords: youngWords,
		StackSlots: stackSlots,
		Debug:      cfg.Heap.Debug,
		StatsPath:  cfg.Heap.StatsPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	young, _ := bytesize.Parse(cfg.Heap.YoungSize)
	fmt.Printf("heapstress: semi-space %s, %d iterations per scenario\n", young, *iterations)

	if err := run(h, *iterations); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	snap := h.Stats()
	if *jsonOut {
		data, err := snap.MarshalIndent()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(data))
	} else {
		snap.Report(os.Stdout)
	}

	if err := h.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Error closing heap: %v\n", err)
		os.Exit(1)
	}
}

func run(h *heap.Heap, iters int) error {
	if err := churnList(h, iters); err != nil {
		return err
	}
	if err := churnTenure(h, iters); err != nil {
		return err
	}
	if err := churnCycles(h, iters); err != nil {
		return err
	}
	return nil
}

// churnList 滚动保留一条装箱数组链：头部常驻影子栈，旧节点不断
// 脱落成垃圾，存活节点被反复复制直到晋升。
func churnList(h *heap.Heap, iters int) error {
	s := h.Shadow()
	s.Expand(1)
	defer s.Shrink(1)

	for i := 0; i < iters; i++ {
		node, err := h.AllocBoxArray(4)
		if err != nil {
			return fmt.Errorf("list churn at %d: %w", i, err)
		}
		h.SetField(node, 0, boxing.FromRef(uint64(s.Get(0))))
		h.SetField(node, 1, boxing.FromInt(int64(i)))
		s.Set(0, node)

		// 每 64 个节点截断链，让尾部变成垃圾
		if i%64 == 63 {
			cut := s.Get(0)
			for d := 0; d < 8; d++ {
				nextW := h.GetField(cut, 0)
				if nextW == boxing.Null {
					break
				}
				cut = heap.Ref(nextW.AsRef())
			}
			h.SetField(cut, 0, boxing.Null)
		}
	}

	if err := verifyChain(h, s.Get(0)); err != nil {
		return err
	}
	return nil
}

// verifyChain 自检：沿链走读，序号必须严格递减。
func verifyChain(h *heap.Heap, head heap.Ref) error {
	prev := int64(1 << 62)
	for p := head; p != 0; {
		got := h.GetField(p, 1).AsInt()
		if got >= prev {
			return errors.New("heap corruption: list sequence out of order")
		}
		prev = got
		p = heap.Ref(h.GetField(p, 0).AsRef())
	}
	return nil
}

// churnTenure 往老年代对象里写幼年代指针，驱动写屏障与记忆集，
// 定期强制回收。
func churnTenure(h *heap.Heap, iters int) error {
	s := h.Shadow()
	s.Expand(1)
	defer s.Shrink(1)

	old := h.AllocBoxArrayTenured(8)
	s.Set(0, old)

	for i := 0; i < iters; i++ {
		young, err := h.AllocUnboxArray(4)
		if err != nil {
			return fmt.Errorf("tenure churn at %d: %w", i, err)
		}
		h.SetRaw(young, 0, uint64(i))
		h.SetField(old, uint32(i%8), boxing.FromRef(uint64(young)))

		if i%256 == 255 {
			h.ForceMinor()
		}
	}
	h.ForceMajor()
	return nil
}

// churnCycles 构造相互引用的老年代对象对，随即丢根，让标记清扫
// 证明环状垃圾可回收。
func churnCycles(h *heap.Heap, iters int) error {
	s := h.Shadow()
	for i := 0; i < iters/10; i++ {
		a := h.AllocBoxArrayTenured(2)
		b := h.AllocBoxArrayTenured(2)
		s.Expand(2)
		s.Set(0, a)
		s.Set(1, b)
		h.SetField(a, 0, boxing.FromRef(uint64(b)))
		h.SetField(b, 0, boxing.FromRef(uint64(a)))
		s.Shrink(2)
	}
	before := h.TenureSize()
	h.ForceMajor()
	if h.TenureSize() > before {
		return errors.New("heap corruption: tenure grew across a major GC")
	}
	return nil
}
