// Package cluster finds connected components of near-duplicate pairs over an
// index range. Both implementations are iterative.
package cluster

import "sort"

// Edge joins two indices of the compared slice.
type Edge struct {
	A, B int
}

// Detector groups the indices [0, n) connected by edges. Components are
// ordered by their smallest index and list their members ascending.
type Detector interface {
	Detect(n int, edges []Edge) [][]int
}

// BFSDetector walks an adjacency list with an explicit queue.
type BFSDetector struct{}

func (BFSDetector) Detect(n int, edges []Edge) [][]int {
	adj := make([][]int, n)
	for _, e := range edges {
		if e.A < 0 || e.B < 0 || e.A >= n || e.B >= n || e.A == e.B {
			continue
		}
		adj[e.A] = append(adj[e.A], e.B)
		adj[e.B] = append(adj[e.B], e.A)
	}

	visited := make([]bool, n)
	var components [][]int
	queue := make([]int, 0, n)

	for start := 0; start < n; start++ {
		if visited[start] {
			continue
		}
		visited[start] = true
		queue = append(queue[:0], start)

		var component []int
		for len(queue) > 0 {
			u := queue[0]
			queue = queue[1:]
			component = append(component, u)
			for _, v := range adj[u] {
				if !visited[v] {
					visited[v] = true
					queue = append(queue, v)
				}
			}
		}
		sort.Ints(component)
		components = append(components, component)
	}
	return components
}

// UnionFindDetector merges edges with path-compressed union-find.
type UnionFindDetector struct{}

func (UnionFindDetector) Detect(n int, edges []Edge) [][]int {
	uf := NewUnionFind(n)
	for _, e := range edges {
		if e.A < 0 || e.B < 0 || e.A >= n || e.B >= n {
			continue
		}
		uf.Union(e.A, e.B)
	}
	return uf.Groups()
}

// Clusters returns only the components with more than one member.
func Clusters(d Detector, n int, edges []Edge) [][]int {
	var out [][]int
	for _, c := range d.Detect(n, edges) {
		if len(c) > 1 {
			out = append(out, c)
		}
	}
	return out
}
