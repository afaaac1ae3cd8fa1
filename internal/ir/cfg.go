package ir

// ControlFlowGraph holds the block order and dominator tree of a function.
// It is a snapshot: rebuild it after the function's control flow changes.
type ControlFlowGraph struct {
	Entry        *BasicBlock
	Predecessors map[*BasicBlock][]*BasicBlock
	PostOrder    []*BasicBlock
	idom         map[*BasicBlock]*BasicBlock
	rpoIndex     map[*BasicBlock]int
}

// BuildCFG computes reachability and immediate dominators using the
// iterative algorithm of Cooper, Harvey and Kennedy.
func BuildCFG(fn *Function) *ControlFlowGraph {
	cfg := &ControlFlowGraph{
		Entry:        fn.Entry(),
		Predecessors: fn.Predecessors(),
		idom:         make(map[*BasicBlock]*BasicBlock),
		rpoIndex:     make(map[*BasicBlock]int),
	}
	if cfg.Entry == nil {
		return cfg
	}

	// Depth-first post-order with an explicit stack
	type frame struct {
		block *BasicBlock
		next  int
	}
	visited := map[*BasicBlock]bool{cfg.Entry: true}
	stack := []frame{{block: cfg.Entry}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		succs := fn.Successors(top.block)
		if top.next < len(succs) {
			succ := succs[top.next]
			top.next++
			if !visited[succ] {
				visited[succ] = true
				stack = append(stack, frame{block: succ})
			}
			continue
		}
		cfg.PostOrder = append(cfg.PostOrder, top.block)
		stack = stack[:len(stack)-1]
	}
	for i, block := range cfg.PostOrder {
		cfg.rpoIndex[block] = len(cfg.PostOrder) - 1 - i
	}

	cfg.idom[cfg.Entry] = cfg.Entry
	for changed := true; changed; {
		changed = false
		for i := len(cfg.PostOrder) - 1; i >= 0; i-- {
			block := cfg.PostOrder[i]
			if block == cfg.Entry {
				continue
			}
			var newIdom *BasicBlock
			for _, pred := range cfg.Predecessors[block] {
				if _, done := cfg.idom[pred]; !done {
					continue
				}
				if newIdom == nil {
					newIdom = pred
				} else {
					newIdom = cfg.intersect(pred, newIdom)
				}
			}
			if newIdom != nil && cfg.idom[block] != newIdom {
				cfg.idom[block] = newIdom
				changed = true
			}
		}
	}
	return cfg
}

func (cfg *ControlFlowGraph) intersect(a, b *BasicBlock) *BasicBlock {
	for a != b {
		for cfg.rpoIndex[a] > cfg.rpoIndex[b] {
			a = cfg.idom[a]
		}
		for cfg.rpoIndex[b] > cfg.rpoIndex[a] {
			b = cfg.idom[b]
		}
	}
	return a
}

// IsReachable reports whether block can be reached from the entry block
func (cfg *ControlFlowGraph) IsReachable(block *BasicBlock) bool {
	_, ok := cfg.rpoIndex[block]
	return ok
}

// IDom returns the immediate dominator of block; the entry block is its own
func (cfg *ControlFlowGraph) IDom(block *BasicBlock) *BasicBlock {
	return cfg.idom[block]
}

// Dominates reports whether a dominates b. Every block dominates itself.
func (cfg *ControlFlowGraph) Dominates(a, b *BasicBlock) bool {
	if !cfg.IsReachable(a) || !cfg.IsReachable(b) {
		return false
	}
	for {
		if a == b {
			return true
		}
		if b == cfg.Entry {
			return false
		}
		b = cfg.idom[b]
	}
}
