package core

import "fmt"

// DAGStats is a point-in-time snapshot of a DAG's shape.
type DAGStats struct {
	TotalBlocks  int
	TotalSize    int64
	RootCount    int
	LeafCount    int
	MaxDepth     int
	AverageDepth float64
}

// DAG is an in-memory index over blocks: CID to Block, and CID to the set
// of CIDs it links to. It never owns a Transport or Peer and holds no
// network state; it is a pure graph structure over whatever blocks have
// been added to it.
type DAG struct {
	blocks   map[CID]Block
	outgoing map[CID]map[CID]struct{}
}

// NewDAG returns an empty DAG.
func NewDAG() *DAG {
	return &DAG{
		blocks:   make(map[CID]Block),
		outgoing: make(map[CID]map[CID]struct{}),
	}
}

// AddBlock inserts b and (re)computes its outgoing-link set by
// re-extracting links from b's data. Calling AddBlock twice with the same
// block is a no-op beyond refreshing the link set, satisfying idempotence.
func (d *DAG) AddBlock(b Block) error {
	links, err := ExtractLinks(b)
	if err != nil {
		return err
	}
	d.blocks[b.CID()] = b
	set := make(map[CID]struct{}, len(links))
	for _, l := range links {
		set[l] = struct{}{}
	}
	d.outgoing[b.CID()] = set
	return nil
}

// RemoveBlock erases cid's node and its outgoing set. It does not touch
// any node that pointed to cid; parents are computed by scan, not stored.
func (d *DAG) RemoveBlock(cid CID) {
	delete(d.blocks, cid)
	delete(d.outgoing, cid)
}

// Has reports whether cid has been added to the DAG.
func (d *DAG) Has(cid CID) bool {
	_, ok := d.blocks[cid]
	return ok
}

// GetBlock returns the block stored at cid.
func (d *DAG) GetBlock(cid CID) (Block, bool) {
	b, ok := d.blocks[cid]
	return b, ok
}

// GetChildren returns the CIDs cid links to, in no particular order.
func (d *DAG) GetChildren(cid CID) []CID {
	set, ok := d.outgoing[cid]
	if !ok {
		return nil
	}
	out := make([]CID, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

// GetParents scans every node's outgoing set for references to cid. This
// is O(nodes) by design; the DAG favors a small, simple index over a
// second reverse map that would need to stay in sync on every AddBlock.
func (d *DAG) GetParents(cid CID) []CID {
	var out []CID
	for parent, children := range d.outgoing {
		if _, ok := children[cid]; ok {
			out = append(out, parent)
		}
	}
	return out
}

type dfsColor int

const (
	white dfsColor = iota
	gray
	black
)

// HasCycles runs iterative DFS with white/gray/black coloring over every
// node, returning true as soon as a back edge (an edge into a gray node)
// is found.
func (d *DAG) HasCycles() bool {
	colors := make(map[CID]dfsColor, len(d.blocks))
	for cid := range d.blocks {
		colors[cid] = white
	}
	for cid := range d.blocks {
		if colors[cid] == white {
			if d.hasCycleFrom(cid, colors) {
				return true
			}
		}
	}
	return false
}

type dfsFrame struct {
	node     CID
	children []CID
	idx      int
}

func (d *DAG) hasCycleFrom(start CID, colors map[CID]dfsColor) bool {
	stack := []*dfsFrame{{node: start, children: d.GetChildren(start)}}
	colors[start] = gray
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		if top.idx >= len(top.children) {
			colors[top.node] = black
			stack = stack[:len(stack)-1]
			continue
		}
		child := top.children[top.idx]
		top.idx++
		switch colors[child] {
		case white:
			colors[child] = gray
			stack = append(stack, &dfsFrame{node: child, children: d.GetChildren(child)})
		case gray:
			return true
		case black:
			// already fully explored, no cycle through it
		}
	}
	return false
}

// TopologicalSort returns nodes in post-order reversal (a valid dependency
// order: for every edge u->v, u appears before v). Fails with ErrCyclic if
// the DAG contains a cycle.
func (d *DAG) TopologicalSort() ([]CID, error) {
	colors := make(map[CID]dfsColor, len(d.blocks))
	for cid := range d.blocks {
		colors[cid] = white
	}
	var order []CID
	for cid := range d.blocks {
		if colors[cid] == white {
			if err := d.topoVisit(cid, colors, &order); err != nil {
				return nil, err
			}
		}
	}
	// Reverse to get dependency-first order.
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	return order, nil
}

func (d *DAG) topoVisit(start CID, colors map[CID]dfsColor, order *[]CID) error {
	type frame struct {
		node     CID
		children []CID
		idx      int
	}
	stack := []*frame{{node: start, children: d.GetChildren(start)}}
	colors[start] = gray
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		if top.idx >= len(top.children) {
			colors[top.node] = black
			*order = append(*order, top.node)
			stack = stack[:len(stack)-1]
			continue
		}
		child := top.children[top.idx]
		top.idx++
		switch colors[child] {
		case white:
			colors[child] = gray
			stack = append(stack, &frame{node: child, children: d.GetChildren(child)})
		case gray:
			return fmt.Errorf("%w: cycle through %s", ErrCyclic, child)
		}
	}
	return nil
}

// FindPath returns the shortest CID sequence from "from" to "to" inclusive
// via BFS, or nil if "to" is unreachable.
func (d *DAG) FindPath(from, to CID) []CID {
	if from.Equals(to) {
		return []CID{from}
	}
	type queued struct {
		cid  CID
		path []CID
	}
	visited := map[CID]bool{from: true}
	queue := []queued{{cid: from, path: []CID{from}}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, child := range d.GetChildren(cur.cid) {
			if visited[child] {
				continue
			}
			path := append(append([]CID(nil), cur.path...), child)
			if child.Equals(to) {
				return path
			}
			visited[child] = true
			queue = append(queue, queued{cid: child, path: path})
		}
	}
	return nil
}

// roots returns nodes with no incoming edge anywhere in the index.
func (d *DAG) roots() []CID {
	hasParent := make(map[CID]bool, len(d.blocks))
	for _, children := range d.outgoing {
		for c := range children {
			hasParent[c] = true
		}
	}
	var out []CID
	for cid := range d.blocks {
		if !hasParent[cid] {
			out = append(out, cid)
		}
	}
	return out
}

// CalculateStats reports totals, root/leaf counts, and depth statistics
// (depth = shortest distance from any root).
func (d *DAG) CalculateStats() DAGStats {
	stats := DAGStats{TotalBlocks: len(d.blocks)}
	for _, b := range d.blocks {
		stats.TotalSize += int64(b.Size())
	}
	roots := d.roots()
	stats.RootCount = len(roots)
	for cid := range d.blocks {
		if len(d.outgoing[cid]) == 0 {
			stats.LeafCount++
		}
	}

	depths := d.depthsFromRoots(roots)
	if len(depths) > 0 {
		var total int
		for _, depth := range depths {
			if depth > stats.MaxDepth {
				stats.MaxDepth = depth
			}
			total += depth
		}
		stats.AverageDepth = float64(total) / float64(len(depths))
	}
	return stats
}

func (d *DAG) depthsFromRoots(roots []CID) map[CID]int {
	depth := make(map[CID]int, len(d.blocks))
	queue := make([]CID, 0, len(roots))
	for _, r := range roots {
		depth[r] = 0
		queue = append(queue, r)
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, child := range d.GetChildren(cur) {
			if _, seen := depth[child]; seen {
				continue
			}
			depth[child] = depth[cur] + 1
			queue = append(queue, child)
		}
	}
	return depth
}
