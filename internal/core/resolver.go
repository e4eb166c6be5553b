package core

// ResolveType picks exactly one winning classification type from the ordered
// candidates. Types without a registered primitive set do not participate.
// A candidate that is a subtype of the current winner replaces it; a
// supertype of the winner is ignored; an unrelated pair is a conflict the
// caller cannot recover from by reordering, since precedence depends only on
// the subtype relation.
func (r *Registry) ResolveType(candidates []string) (string, error) {
	seen := make(map[string]struct{}, len(candidates))
	var winner string
	have := false
	for _, cand := range candidates {
		if _, ok := seen[cand]; ok {
			continue
		}
		seen[cand] = struct{}{}
		if _, ok := r.primitives[cand]; !ok {
			continue
		}
		if !have {
			winner = cand
			have = true
			continue
		}
		if r.graph.IsSubtypeOf(cand, winner) {
			winner = cand
			continue
		}
		if r.graph.IsSubtypeOf(winner, cand) {
			continue
		}
		return "", ConflictingAssignmentError{TypeA: winner, TypeB: cand}
	}
	if !have {
		return "", NoApplicableSetError{Candidates: append([]string(nil), candidates...)}
	}
	return winner, nil
}
