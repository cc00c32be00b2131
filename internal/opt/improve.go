package opt

import (
	"fieldops/internal/geo"
	"fieldops/internal/model"
)

// Improve2Opt applies a simple 2-opt pass over an already-sequenced route to
// shave total distance. The first and last stops stay fixed; stops without a
// coordinate (DistM < 0) are left untouched at the tail. Advisory like the
// greedy pass itself: the dispatcher applies the result explicitly.
func Improve2Opt(stops []model.RouteStop, iterations int) []model.RouteStop {
	if iterations <= 0 {
		iterations = 1
	}
	head := []model.RouteStop{}
	tail := []model.RouteStop{}
	for _, s := range stops {
		if s.DistM < 0 {
			tail = append(tail, s)
		} else {
			head = append(head, s)
		}
	}
	n := len(head)
	if n < 4 {
		return stops
	}

	best := append([]model.RouteStop(nil), head...)
	bestDist := routeDistance(best)
	for it := 0; it < iterations; it++ {
		improved := false
		for i := 1; i < n-2; i++ {
			for k := i + 1; k < n-1; k++ {
				cand := twoOptSwap(best, i, k)
				if d := routeDistance(cand); d+1e-3 < bestDist {
					best = cand
					bestDist = d
					improved = true
				}
			}
		}
		if !improved {
			break
		}
	}
	out := append(best, tail...)
	renumber(out)
	if stops[0].DistM < 0 && out[0].DistM >= 0 {
		// The lead stop was promoted past an uncoordinated one; its old
		// leg distance pointed at a predecessor it no longer follows.
		out[0].DistM = 0
	}
	return out
}

func twoOptSwap(stops []model.RouteStop, i, k int) []model.RouteStop {
	out := make([]model.RouteStop, len(stops))
	copy(out, stops[:i])
	pos := i
	for j := k; j >= i; j-- {
		out[pos] = stops[j]
		pos++
	}
	copy(out[pos:], stops[k+1:])
	return out
}

func routeDistance(stops []model.RouteStop) float64 {
	total := 0.0
	for i := 0; i < len(stops)-1; i++ {
		a := stops[i].Order.Building.Location
		b := stops[i+1].Order.Building.Location
		total += geo.DistanceMeters(*a, *b)
	}
	return total
}

// renumber rewrites Seq and leg distances after a reorder.
func renumber(stops []model.RouteStop) {
	for i := range stops {
		stops[i].Seq = i + 1
		if stops[i].DistM < 0 {
			continue
		}
		if i == 0 {
			continue
		}
		if stops[i-1].DistM < 0 {
			continue
		}
		a := stops[i-1].Order.Building.Location
		b := stops[i].Order.Building.Location
		stops[i].DistM = geo.DistanceMeters(*a, *b)
	}
}
