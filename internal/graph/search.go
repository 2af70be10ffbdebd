package graph

import (
	"container/heap"

	"github.com/rotisserie/eris"
)

// WithinCost runs Dijkstra from source and returns the least cost to every
// node whose cost is at most cutoff. The source is always included at cost 0.
func (g *Graph) WithinCost(source string, cutoff float64) (map[string]float64, error) {
	src, ok := g.index[source]
	if !ok {
		return nil, eris.Errorf("graph: unknown source node %q", source)
	}
	if cutoff < 0 || !finite(cutoff) {
		return nil, eris.Errorf("graph: invalid cutoff %v", cutoff)
	}

	dist := map[int]float64{src: 0}
	settled := make(map[int]bool)

	pq := &costQueue{}
	heap.Push(pq, costItem{node: src, cost: 0})

	for pq.Len() > 0 {
		cur := heap.Pop(pq).(costItem)
		if settled[cur.node] {
			continue
		}
		settled[cur.node] = true

		for _, a := range g.adj[cur.node] {
			if settled[a.to] {
				continue
			}
			nd := cur.cost + a.weight
			if nd > cutoff {
				continue
			}
			if old, seen := dist[a.to]; !seen || nd < old {
				dist[a.to] = nd
				heap.Push(pq, costItem{node: a.to, cost: nd})
			}
		}
	}

	out := make(map[string]float64, len(dist))
	for i, d := range dist {
		out[g.nodes[i].ID] = d
	}
	return out, nil
}

type costItem struct {
	node int
	cost float64
}

// costQueue is a min-heap of costItem ordered by cost.
type costQueue []costItem

func (q costQueue) Len() int            { return len(q) }
func (q costQueue) Less(i, j int) bool  { return q[i].cost < q[j].cost }
func (q costQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *costQueue) Push(x interface{}) { *q = append(*q, x.(costItem)) }
func (q *costQueue) Pop() interface{} {
	old := *q
	n := len(old)
	it := old[n-1]
	*q = old[:n-1]
	return it
}
