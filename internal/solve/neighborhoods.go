package solve

// Local improvement moves applied inside the search loop. Every candidate
// is re-scheduled before acceptance so hard bounds are preserved.

// twoOptImprove reverses intra-route segments while distance decreases.
func (m *Model) twoOptImprove(a *assignment) {
	for vi, r := range a.routes {
		n := len(r)
		if n < 3 {
			continue
		}
		inst := m.arena.instances[vi]
		improved := true
		for improved {
			improved = false
			base, ok := m.schedule(r, inst)
			if !ok {
				break
			}
			for i := 0; i < n-1; i++ {
				for k := i + 1; k < n; k++ {
					cand := append([]int(nil), r...)
					for x, y := i, k; x < y; x, y = x+1, y-1 {
						cand[x], cand[y] = cand[y], cand[x]
					}
					sched, ok := m.schedule(cand, inst)
					if !ok {
						continue
					}
					if sched.distKm+1e-6 < base.distKm && sched.deviation <= base.deviation {
						r = cand
						base = sched
						improved = true
					}
				}
			}
		}
		a.routes[vi] = r
	}
}

// relocateImprove moves single stops within and across routes when the
// summed route distance drops. The or-opt analogue in the move set.
func (m *Model) relocateImprove(a *assignment) {
	improved := true
	for improved {
		improved = false
		for fromVi, from := range a.routes {
			for i := 0; i < len(from); i++ {
				si := from[i]
				fromCand := append(append([]int(nil), from[:i]...), from[i+1:]...)
				fromInst := m.arena.instances[fromVi]
				fromBase, _ := m.schedule(from, fromInst)
				fromAfter, ok := m.schedule(fromCand, fromInst)
				if !ok {
					continue
				}
				gain := fromBase.distKm - fromAfter.distKm
				for toVi := range a.routes {
					to := a.routes[toVi]
					if toVi == fromVi {
						to = fromCand
					}
					toInst := m.arena.instances[toVi]
					toBase, ok := m.schedule(to, toInst)
					if !ok {
						continue
					}
					for pos := 0; pos <= len(to); pos++ {
						cand, sched, ok := m.fits(to, toInst, si, pos)
						if !ok {
							continue
						}
						if sched.distKm-toBase.distKm+1e-6 < gain {
							a.routes[fromVi] = fromCand
							a.routes[toVi] = cand
							improved = true
							break
						}
					}
					if improved {
						break
					}
				}
				if improved {
					break
				}
			}
			if improved {
				break
			}
		}
	}
}

// crossExchangeImprove swaps one stop between two routes when the summed
// distance drops and both schedules stay feasible.
func (m *Model) crossExchangeImprove(a *assignment) {
	n := len(a.routes)
	improved := true
	for improved {
		improved = false
		for x := 0; x < n; x++ {
			for y := x + 1; y < n; y++ {
				rx, ry := a.routes[x], a.routes[y]
				if len(rx) == 0 || len(ry) == 0 {
					continue
				}
				ix, iy := m.arena.instances[x], m.arena.instances[y]
				bx, okx := m.schedule(rx, ix)
				by, oky := m.schedule(ry, iy)
				if !okx || !oky {
					continue
				}
				before := bx.distKm + by.distKm
				for i := range rx {
					for j := range ry {
						cx := append([]int(nil), rx...)
						cy := append([]int(nil), ry...)
						cx[i], cy[j] = cy[j], cx[i]
						sx, okx := m.schedule(cx, ix)
						if !okx {
							continue
						}
						sy, oky := m.schedule(cy, iy)
						if !oky {
							continue
						}
						if sx.distKm+sy.distKm+1e-6 < before {
							a.routes[x], a.routes[y] = cx, cy
							improved = true
							break
						}
					}
					if improved {
						break
					}
				}
				if improved {
					break
				}
			}
			if improved {
				break
			}
		}
	}
}
