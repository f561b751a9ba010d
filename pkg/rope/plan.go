package rope

// maxGroupWidth caps how many channel pairs a group works through per step,
// matching the widest useful SIMT block.
const maxGroupWidth = 512

// LaunchPlan is the parallel decomposition of rotary work. The work index
// space is (token, pair) with token in [0, N) and pair in
// [0, max(numHeads, numKVHeads)*rotDim/2). Groups own disjoint token ranges,
// and within a token distinct pairs touch disjoint channel pairs, so no two
// groups ever write overlapping memory.
type LaunchPlan struct {
	// Groups is the number of parallel work groups launched.
	Groups int
	// GroupWidth is how many pair indices a group advances per inner step.
	GroupWidth int
	// LoopCnt is how many tokens each group processes sequentially.
	LoopCnt int
}

// planLaunch sizes the decomposition for a device exposing the given core
// count. With plentiful cores this is one group per token; on a small core
// fabric it is one group per core, each looping ceil(numTokens/cores) tokens.
func planLaunch(numTokens, pairs, cores int) LaunchPlan {
	if cores < 1 {
		cores = 1
	}
	width := pairs
	if width > maxGroupWidth {
		width = maxGroupWidth
	}
	if width < 1 {
		width = 1
	}
	if numTokens <= cores {
		return LaunchPlan{Groups: numTokens, GroupWidth: width, LoopCnt: 1}
	}
	loopCnt := (numTokens + cores - 1) / cores
	groups := (numTokens + loopCnt - 1) / loopCnt
	return LaunchPlan{Groups: groups, GroupWidth: width, LoopCnt: loopCnt}
}

// tokenRange returns the half-open token range owned by group g.
func (p LaunchPlan) tokenRange(g, numTokens int) (int, int) {
	lo := g * p.LoopCnt
	if lo > numTokens {
		lo = numTokens
	}
	hi := lo + p.LoopCnt
	if hi > numTokens {
		hi = numTokens
	}
	return lo, hi
}
