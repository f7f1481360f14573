package detector

// childrenIndex maps a parent PID to its direct children in snapshot order.
func childrenIndex(procs []Proc) map[int][]int {
	idx := make(map[int][]int, len(procs))
	for _, p := range procs {
		if p.PPID > 0 && p.PPID != p.PID {
			idx[p.PPID] = append(idx[p.PPID], p.PID)
		}
	}
	return idx
}

// collectTree returns root and all of its live descendants. It walks with an
// explicit stack and a visited set so cyclic or very deep parent links cannot
// loop or exhaust the goroutine stack. A dead root yields nothing.
func collectTree(root int, children map[int][]int, alive func(int) bool) []int {
	stack := []int{root}
	visited := make(map[int]struct{})
	var collected []int
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, seen := visited[cur]; seen {
			continue
		}
		visited[cur] = struct{}{}
		if !alive(cur) {
			continue
		}
		collected = append(collected, cur)
		kids := children[cur]
		for i := len(kids) - 1; i >= 0; i-- {
			stack = append(stack, kids[i])
		}
	}
	return collected
}
