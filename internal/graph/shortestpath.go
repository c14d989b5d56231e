package graph

import (
	"fmt"
	"math"
)

// computeRoutePlans runs Floyd-Warshall over the route graph: waypoints are
// vertices and every route is an edge from its entry to its exit, weighted by
// its length. Iteration follows declaration order so ties resolve the same way
// on every run.
func (g *Graph) computeRoutePlans() {
	var ids []WaypointID
	seen := make(map[WaypointID]bool)
	for _, r := range g.routes {
		for _, w := range []WaypointID{r.Entry, r.Exit} {
			if !seen[w] {
				seen[w] = true
				ids = append(ids, w)
			}
		}
	}

	dist := make(map[WaypointID]map[WaypointID]float64, len(ids))
	next := make(map[WaypointID]map[WaypointID]*Route, len(ids))
	for _, i := range ids {
		dist[i] = make(map[WaypointID]float64, len(ids))
		next[i] = make(map[WaypointID]*Route, len(ids))
		for _, j := range ids {
			dist[i][j] = math.Inf(1)
		}
		dist[i][i] = 0
	}
	for _, r := range g.routes {
		if l := r.Length(); l < dist[r.Entry][r.Exit] {
			dist[r.Entry][r.Exit] = l
			next[r.Entry][r.Exit] = r
		}
	}
	for _, k := range ids {
		for _, i := range ids {
			for _, j := range ids {
				if d := dist[i][k] + dist[k][j]; d < dist[i][j] {
					dist[i][j] = d
					next[i][j] = next[i][k]
				}
			}
		}
	}

	g.dist = dist
	g.nextRoute = next
	g.planCache = make(map[PathID][]*Route) // clear stale cache
}

func (g *Graph) ensureRoutePlans() {
	if g.dist == nil {
		g.computeRoutePlans()
	}
}

// pathKey returns a canonical string key for a start→end pair.
func pathKey(start, end WaypointID) PathID { return start + "->" + end }

// PlanRoutes returns the shortest sequence of routes leading from waypoint
// from to waypoint to, using a cache. Returns an error if no sequence exists.
func (g *Graph) PlanRoutes(from, to WaypointID) ([]*Route, error) {
	key := pathKey(from, to)
	if p, ok := g.planCache[key]; ok {
		return p, nil
	}
	g.ensureRoutePlans()
	d, ok := g.dist[from][to]
	if !ok || math.IsInf(d, 1) || from == to {
		return nil, fmt.Errorf("no route sequence from %q to %q", from, to)
	}
	var plan []*Route
	for u := from; u != to; {
		r := g.nextRoute[u][to]
		if r == nil {
			return nil, fmt.Errorf("no route sequence from %q to %q", from, to)
		}
		plan = append(plan, r)
		u = r.Exit
	}
	g.planCache[key] = plan
	return plan, nil
}
