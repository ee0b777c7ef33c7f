package approval

// DeriveStatus computes an approvable's status from its chain.
//
//   - any row rejected            -> rejected
//   - any row pending             -> pending
//   - flow exists, nothing open   -> approved (every configured level passed,
//     or no level applied at all)
//   - no flow                     -> pending (awaiting flow creation)
//
// It is a pure function; nothing caches its result.
func DeriveStatus(flowExists bool, rows []Approval) Status {
	pending := false
	for _, a := range rows {
		switch a.Status {
		case StatusRejected:
			return StatusRejected
		case StatusPending:
			pending = true
		}
	}
	if pending || !flowExists {
		return StatusPending
	}
	return StatusApproved
}

// CurrentLevel returns the pending row, if any.
func CurrentLevel(rows []Approval) (Approval, bool) {
	for _, a := range rows {
		if a.Pending() {
			return a, true
		}
	}
	return Approval{}, false
}
