package vectors

import "github.com/reproforge/reproforge/model"

// Cluster groups |vecs| by density: two points are neighbors when their
// cosine distance is at most |eps|, and a point with at least |minSamples|
// neighbors (itself included) is a core point from which a cluster expands.
// Points reachable from no core point are noise and are returned as
// singleton clusters, so every input index appears in exactly one cluster.
func Cluster(vecs []model.Vector, eps float64, minSamples int) [][]int {
	const (
		unvisited = 0
		noise     = -1
	)
	var n = len(vecs)
	var labels = make([]int, n)
	var next = 1

	var neighborsOf = func(i int) []int {
		var out []int
		for j := 0; j != n; j++ {
			if CosineDistance(vecs[i], vecs[j]) <= eps {
				out = append(out, j)
			}
		}
		return out
	}

	for i := 0; i != n; i++ {
		if labels[i] != unvisited {
			continue
		}
		var seeds = neighborsOf(i)
		if len(seeds) < minSamples {
			labels[i] = noise
			continue
		}
		var cluster = next
		next++
		labels[i] = cluster

		// Breadth-first expansion over density-reachable points.
		for cursor := 0; cursor != len(seeds); cursor++ {
			var j = seeds[cursor]
			if labels[j] == noise {
				labels[j] = cluster
			}
			if labels[j] != unvisited {
				continue
			}
			labels[j] = cluster

			if more := neighborsOf(j); len(more) >= minSamples {
				seeds = append(seeds, more...)
			}
		}
	}

	var byLabel = make(map[int][]int)
	var order []int
	for i, l := range labels {
		if l == noise {
			l = -(i + 2) // distinct negative label per noise point
		}
		if _, ok := byLabel[l]; !ok {
			order = append(order, l)
		}
		byLabel[l] = append(byLabel[l], i)
	}

	var out = make([][]int, 0, len(order))
	for _, l := range order {
		out = append(out, byLabel[l])
	}
	return out
}
