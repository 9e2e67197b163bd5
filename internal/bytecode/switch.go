package bytecode

import "sort"

// SwitchTable drives one OpSwitch instruction. Numeric keys live in a
// sorted array searched by binary search, string keys in a map. Targets
// are offsets relative to the byte after the OpSwitch operand.
type SwitchTable struct {
	Numbers       []float64      `msgpack:"nums,omitempty"`
	NumberTargets []int          `msgpack:"num_targets,omitempty"`
	Strings       map[string]int `msgpack:"strs,omitempty"`
	Default       int            `msgpack:"default"`
}

// LookupNumber returns the target for n, or the default offset.
func (t *SwitchTable) LookupNumber(n float64) int {
	i := sort.SearchFloat64s(t.Numbers, n)
	if i < len(t.Numbers) && t.Numbers[i] == n {
		return t.NumberTargets[i]
	}
	return t.Default
}

// LookupString returns the target for s, or the default offset.
func (t *SwitchTable) LookupString(s string) int {
	if off, ok := t.Strings[s]; ok {
		return off
	}
	return t.Default
}

// sortNumbers orders numeric keys so LookupNumber can binary search.
func (t *SwitchTable) sortNumbers() {
	sort.Sort(byNumber{t})
}

type byNumber struct{ t *SwitchTable }

func (b byNumber) Len() int           { return len(b.t.Numbers) }
func (b byNumber) Less(i, j int) bool { return b.t.Numbers[i] < b.t.Numbers[j] }
func (b byNumber) Swap(i, j int) {
	b.t.Numbers[i], b.t.Numbers[j] = b.t.Numbers[j], b.t.Numbers[i]
	b.t.NumberTargets[i], b.t.NumberTargets[j] = b.t.NumberTargets[j], b.t.NumberTargets[i]
}
