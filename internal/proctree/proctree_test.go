package proctree

import "testing"

// TestKillTreeOrder verifies the core invariant: children are
// signalled strictly before their parent, even across multiple
// levels, so re-parenting onto pid 1 never hides a process mid-sweep.
func TestKillTreeOrder(t *testing.T) {
	// Tree: 1 -> 2 -> {3, 4}; 3 -> 5
	byParent := map[int][]int{
		1: {2},
		2: {3, 4},
		3: {5},
	}

	var order []int
	var touched []int
	killTreeRecursive(1, byParent, 0, func(int) {}, func(p int) { order = append(order, p) }, &touched)

	pos := make(map[int]int, len(order))
	for i, p := range order {
		pos[p] = i
	}

	if pos[5] >= pos[3] {
		t.Errorf("pid 5 (child of 3) must be signalled before pid 3, order=%v", order)
	}
	if pos[3] >= pos[2] || pos[4] >= pos[2] {
		t.Errorf("children of 2 must be signalled before pid 2, order=%v", order)
	}
	if pos[2] >= pos[1] {
		t.Errorf("pid 2 must be signalled before root pid 1, order=%v", order)
	}
	if len(order) != 5 {
		t.Errorf("expected all 5 pids signalled, got %v", order)
	}
}

func TestKillTreeDepthBound(t *testing.T) {
	// A cycle: 1 -> 1 (self-referential re-parenting) must terminate.
	byParent := map[int][]int{1: {1}}

	var order []int
	var touched []int
	killTreeRecursive(1, byParent, 0, func(int) {}, func(p int) { order = append(order, p) }, &touched)

	if len(order) > maxDepth+1 {
		t.Errorf("cycle should be bounded by maxDepth=%d, got %d signals", maxDepth, len(order))
	}
}
