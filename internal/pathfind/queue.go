package pathfind

import (
	"container/heap"

	"github.com/annel0/voxel-agent/internal/physics"
	"github.com/annel0/voxel-agent/internal/vec"
)

const noParent = -1

// searchNode узел поиска. Узлы живут в арене одного вызова PlanPath,
// родитель задаётся индексом в арене.
type searchNode struct {
	pos          vec.Vec3
	g, h, f      float64
	parent       int
	state        physics.State
	moveUnits    int
	discoveredAt int
	openIdx      int // индекс в куче; -1 если узел не в открытом множестве
	closed       bool
}

// arena хранилище узлов поиска
type arena struct {
	nodes []searchNode
	index map[vec.Vec3]int
}

func newArena(capacity int) *arena {
	return &arena{
		nodes: make([]searchNode, 0, capacity),
		index: make(map[vec.Vec3]int, capacity),
	}
}

func (a *arena) add(n searchNode) int {
	n.openIdx = -1
	a.nodes = append(a.nodes, n)
	i := len(a.nodes) - 1
	a.index[n.pos] = i
	return i
}

func (a *arena) lookup(pos vec.Vec3) (int, bool) {
	i, ok := a.index[pos]
	return i, ok
}

// path восстанавливает путь от старта до узла i
func (a *arena) path(i int) []vec.Vec3 {
	var rev []vec.Vec3
	for ; i != noParent; i = a.nodes[i].parent {
		rev = append(rev, a.nodes[i].pos)
	}
	out := make([]vec.Vec3, len(rev))
	for k := range rev {
		out[k] = rev[len(rev)-1-k]
	}
	return out
}

// openSet двоичная min-куча индексов арены по fCost (при равенстве - по hCost)
type openSet struct {
	a     *arena
	items []int
}

func newOpenSet(a *arena) *openSet {
	return &openSet{a: a}
}

func (q *openSet) Len() int { return len(q.items) }

func (q *openSet) Less(i, j int) bool {
	ni, nj := &q.a.nodes[q.items[i]], &q.a.nodes[q.items[j]]
	if ni.f == nj.f {
		return ni.h < nj.h
	}
	return ni.f < nj.f
}

func (q *openSet) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
	q.a.nodes[q.items[i]].openIdx = i
	q.a.nodes[q.items[j]].openIdx = j
}

func (q *openSet) Push(x interface{}) {
	i := x.(int)
	q.a.nodes[i].openIdx = len(q.items)
	q.items = append(q.items, i)
}

func (q *openSet) Pop() interface{} {
	old := q.items
	n := len(old)
	i := old[n-1]
	q.items = old[:n-1]
	q.a.nodes[i].openIdx = -1
	return i
}

// push добавляет узел арены в кучу
func (q *openSet) push(i int) { heap.Push(q, i) }

// pop извлекает узел с минимальным fCost
func (q *openSet) pop() int { return heap.Pop(q).(int) }

// fix восстанавливает порядок после уменьшения стоимости узла
func (q *openSet) fix(i int) {
	if idx := q.a.nodes[i].openIdx; idx >= 0 {
		heap.Fix(q, idx)
	}
}
