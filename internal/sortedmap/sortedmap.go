package sortedmap

import "sort"

// listpackMaxEntries is the member-count threshold below which SortedMap
// keeps a flat slice instead of paying for a hash index + skip list
// (spec.md §4.7 "listpack representation"). Crossing it promotes to the
// tree representation permanently — shrinking back never reconverts,
// matching the original's one-way promotion.
const listpackMaxEntries = 128

// AddFlag is one of the option bits AddElem accepts.
type AddFlag uint8

const (
	FlagNone AddFlag = 0
	FlagINCR AddFlag = 1 << iota
	FlagNX
	FlagXX
	FlagGT
	FlagLT
)

// AddResult is AddElem's outcome.
type AddResult int

const (
	Nop AddResult = iota
	Nan
	Added
	Updated
)

// SortedMap is the dual-index member/score container from spec.md §4.7:
// a hash map from member to score backed by a skip list for ordered
// access, with a flat-slice listpack mode for small sets.
type SortedMap struct {
	byMember map[string]float64
	order    *skiplist

	packed   []Elem // listpack mode; nil once promoted
	promoted bool
}

func New() *SortedMap {
	return &SortedMap{packed: make([]Elem, 0, 8)}
}

func (m *SortedMap) Len() int {
	if !m.promoted {
		return len(m.packed)
	}
	return len(m.byMember)
}

func (m *SortedMap) promote() {
	if m.promoted {
		return
	}
	m.byMember = make(map[string]float64, len(m.packed)+1)
	m.order = makeSkiplist()
	for _, e := range m.packed {
		m.byMember[e.Member] = e.Score
		m.order.insert(e.Member, e.Score)
	}
	m.packed = nil
	m.promoted = true
}

func (m *SortedMap) maybePromote() {
	if !m.promoted && len(m.packed) >= listpackMaxEntries {
		m.promote()
	}
}

func (m *SortedMap) packedIndex(member string) int {
	for i, e := range m.packed {
		if e.Member == member {
			return i
		}
	}
	return -1
}

// Get returns member's score and whether it exists.
func (m *SortedMap) Get(member string) (float64, bool) {
	if !m.promoted {
		i := m.packedIndex(member)
		if i < 0 {
			return 0, false
		}
		return m.packed[i].Score, true
	}
	s, ok := m.byMember[member]
	return s, ok
}

// AddElem implements the AddElem operation from spec.md §4.7: flags
// {INCR,NX,XX,GT,LT} gate whether/how member's score changes, returning
// {NOP,NAN,ADDED,UPDATED}. delta is the new score, or the increment when
// FlagINCR is set; newScore reports the resulting score when not Nop/Nan.
func (m *SortedMap) AddElem(member string, delta float64, flags AddFlag) (result AddResult, newScore float64) {
	existing, exists := m.Get(member)

	if flags&FlagNX != 0 && exists {
		return Nop, 0
	}
	if flags&FlagXX != 0 && !exists {
		return Nop, 0
	}

	score := delta
	if flags&FlagINCR != 0 {
		if !exists {
			score = delta
		} else {
			score = existing + delta
		}
		if isNaN(score) {
			return Nan, 0
		}
	}

	if exists {
		if flags&FlagGT != 0 && score <= existing {
			return Nop, existing
		}
		if flags&FlagLT != 0 && score >= existing {
			return Nop, existing
		}
		m.remove(member, existing)
		m.insert(member, score)
		return Updated, score
	}

	m.insert(member, score)
	return Added, score
}

func isNaN(f float64) bool { return f != f }

func (m *SortedMap) insert(member string, score float64) {
	if !m.promoted {
		m.packed = append(m.packed, Elem{Member: member, Score: score})
		m.maybePromote()
		return
	}
	m.byMember[member] = score
	m.order.insert(member, score)
}

func (m *SortedMap) remove(member string, score float64) {
	if !m.promoted {
		if i := m.packedIndex(member); i >= 0 {
			m.packed = append(m.packed[:i], m.packed[i+1:]...)
		}
		return
	}
	delete(m.byMember, member)
	m.order.remove(member, score)
}

// Delete removes member if present, reporting whether it was present.
func (m *SortedMap) Delete(member string) bool {
	score, ok := m.Get(member)
	if !ok {
		return false
	}
	m.remove(member, score)
	return true
}

func (m *SortedMap) sortedPacked() []Elem {
	out := make([]Elem, len(m.packed))
	copy(out, m.packed)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score < out[j].Score
		}
		return out[i].Member < out[j].Member
	})
	return out
}

// GetRange returns elements with min <= score <= max (per the borders'
// exclusivity), ordered ascending by (score, member), reversed if
// reverse is set, and windowed by (offset, limit) after ordering
// (limit < 0 means unbounded).
func (m *SortedMap) GetRange(min, max ScoreBorder, reverse bool, offset, limit int) []Elem {
	var all []Elem
	if !m.promoted {
		for _, e := range m.sortedPacked() {
			if !min.less(&e) || !max.greater(&e) {
				continue
			}
			all = append(all, e)
		}
	} else {
		for n := m.order.getFirstInRange(min, max); n != nil; {
			e := n.Elem
			if !max.greater(&e) {
				break
			}
			all = append(all, e)
			n = n.levels[0].next
		}
	}
	return windowElems(all, reverse, offset, limit)
}

// GetLexRange returns elements with lexicographic member in [min, max]
// (per the borders' exclusivity); all members must carry equal scores
// for this to be meaningful, matching Redis ZRANGEBYLEX semantics.
func (m *SortedMap) GetLexRange(min, max LexBorder, reverse bool, offset, limit int) []Elem {
	var all []Elem
	if !m.promoted {
		for _, e := range m.sortedPacked() {
			if !min.less(&e) || !max.greater(&e) {
				continue
			}
			all = append(all, e)
		}
	} else {
		for n := m.order.getFirstInRange(min, max); n != nil; {
			e := n.Elem
			if !max.greater(&e) {
				break
			}
			all = append(all, e)
			n = n.levels[0].next
		}
	}
	return windowElems(all, reverse, offset, limit)
}

func windowElems(all []Elem, reverse bool, offset, limit int) []Elem {
	if reverse {
		for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
			all[i], all[j] = all[j], all[i]
		}
	}
	if offset > 0 {
		if offset >= len(all) {
			return nil
		}
		all = all[offset:]
	}
	if limit >= 0 && limit < len(all) {
		all = all[:limit]
	}
	return all
}

// GetRank returns member's 0-based rank in ascending (score, member)
// order, or -1 if absent.
func (m *SortedMap) GetRank(member string, reverse bool) int {
	score, ok := m.Get(member)
	if !ok {
		return -1
	}
	var rank int
	if !m.promoted {
		sorted := m.sortedPacked()
		for i, e := range sorted {
			if e.Member == member {
				rank = i
				break
			}
		}
	} else {
		rank = int(m.order.getRank(member, score)) - 1
	}
	if reverse {
		rank = m.Len() - 1 - rank
	}
	return rank
}

// DeleteRangeByRank removes elements with 0-based ranks in [start, stop)
// ascending order, returning them.
func (m *SortedMap) DeleteRangeByRank(start, stop int) []Elem {
	if !m.promoted {
		sorted := m.sortedPacked()
		if start < 0 {
			start = 0
		}
		if stop > len(sorted) {
			stop = len(sorted)
		}
		if start >= stop {
			return nil
		}
		removed := append([]Elem(nil), sorted[start:stop]...)
		for _, e := range removed {
			m.Delete(e.Member)
		}
		return removed
	}
	removed := m.order.removeRangeByRank(int64(start+1), int64(stop+1))
	out := make([]Elem, len(removed))
	for i, e := range removed {
		delete(m.byMember, e.Member)
		out[i] = *e
	}
	return out
}

// DeleteRangeByScore removes every element with min <= score <= max
// (per the borders' exclusivity), returning them.
func (m *SortedMap) DeleteRangeByScore(min, max ScoreBorder) []Elem {
	if !m.promoted {
		var removed []Elem
		for _, e := range m.sortedPacked() {
			if min.less(&e) && max.greater(&e) {
				removed = append(removed, e)
			}
		}
		for _, e := range removed {
			m.Delete(e.Member)
		}
		return removed
	}
	removed := m.order.removeRange(min, max, 0)
	out := make([]Elem, len(removed))
	for i, e := range removed {
		delete(m.byMember, e.Member)
		out[i] = *e
	}
	return out
}

// DeleteRangeByLex removes every element with lexicographic member in
// [min, max] (per the borders' exclusivity), returning them.
func (m *SortedMap) DeleteRangeByLex(min, max LexBorder) []Elem {
	if !m.promoted {
		var removed []Elem
		for _, e := range m.sortedPacked() {
			if min.less(&e) && max.greater(&e) {
				removed = append(removed, e)
			}
		}
		for _, e := range removed {
			m.Delete(e.Member)
		}
		return removed
	}
	removed := m.order.removeRange(min, max, 0)
	out := make([]Elem, len(removed))
	for i, e := range removed {
		delete(m.byMember, e.Member)
		out[i] = *e
	}
	return out
}

// PopTopScores removes and returns up to count elements from the low
// end of the score order (or the high end, if reverse), ties broken
// lexicographically by member, matching ZPOPMIN/ZPOPMAX.
func (m *SortedMap) PopTopScores(count int, reverse bool) []Elem {
	n := m.Len()
	if count > n {
		count = n
	}
	if count <= 0 {
		return nil
	}
	if reverse {
		return m.DeleteRangeByRank(n-count, n)
	}
	return m.DeleteRangeByRank(0, count)
}

// ForEach walks every element in ascending (score, member) order,
// stopping early if fn returns false.
func (m *SortedMap) ForEach(fn func(Elem) bool) {
	if !m.promoted {
		for _, e := range m.sortedPacked() {
			if !fn(e) {
				return
			}
		}
		return
	}
	for n := m.order.header.levels[0].next; n != nil; n = n.levels[0].next {
		if !fn(n.Elem) {
			return
		}
	}
}
