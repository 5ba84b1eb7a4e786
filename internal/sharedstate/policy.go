package sharedstate

import "bytes"

// MaxIDWins picks the submission from the highest writer id.
func MaxIDWins(nodes []Node) int {
	best := 0
	for i, n := range nodes {
		if n.WriterID > nodes[best].WriterID {
			best = i
		}
	}
	return best
}

// MinIDWins picks the submission from the lowest writer id.
func MinIDWins(nodes []Node) int {
	best := 0
	for i, n := range nodes {
		if n.WriterID < nodes[best].WriterID {
			best = i
		}
	}
	return best
}

// MajorityWins picks the most common payload by byte equality (the mode).
// Ties resolve to whichever distinct payload value was seen first.
func MajorityWins(nodes []Node) int {
	counts := make([]int, len(nodes))
	for i := range nodes {
		for j := range nodes {
			if bytes.Equal(nodes[i].Payload, nodes[j].Payload) {
				counts[i]++
			}
		}
	}
	best := 0
	for i := range nodes {
		if counts[i] > counts[best] {
			best = i
		}
	}
	return best
}

// LastWriteWins picks the most recently submitted node. The organizer
// collects bucket chains head-first, and the chain head is always the
// most recently CAS-prepended node, so that's simply index 0.
func LastWriteWins(nodes []Node) int {
	return 0
}
