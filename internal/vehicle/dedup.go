package vehicle

// Dedupe keeps one position per vehicle id: the one with the greatest event
// time. Equal event times resolve to the later element of ps. The result
// follows the order in which each vehicle id first appears.
func Dedupe(ps []Position) []Position {
	if len(ps) == 0 {
		return nil
	}
	idx := make(map[string]int, len(ps))
	out := make([]Position, 0, len(ps))
	for _, p := range ps {
		i, seen := idx[p.VehicleID]
		if !seen {
			idx[p.VehicleID] = len(out)
			out = append(out, p)
			continue
		}
		if !p.EventTime.Before(out[i].EventTime) {
			out[i] = p
		}
	}
	return out
}
