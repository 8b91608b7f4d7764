package patient

import "sort"

// Cohort is an unordered set of patient ids. The zero value is not usable;
// create cohorts with NewCohort. A nil *Cohort behaves as an empty set for
// read operations.
type Cohort struct {
	members map[int64]struct{}
}

func NewCohort(ids ...int64) *Cohort {
	c := &Cohort{members: make(map[int64]struct{}, len(ids))}
	for _, id := range ids {
		c.members[id] = struct{}{}
	}
	return c
}

func (c *Cohort) Add(id int64) {
	c.members[id] = struct{}{}
}

func (c *Cohort) Remove(id int64) {
	delete(c.members, id)
}

func (c *Cohort) Contains(id int64) bool {
	if c == nil {
		return false
	}
	_, ok := c.members[id]
	return ok
}

func (c *Cohort) Len() int {
	if c == nil {
		return 0
	}
	return len(c.members)
}

// MemberIDs returns the members in ascending order.
func (c *Cohort) MemberIDs() []int64 {
	if c == nil {
		return nil
	}
	ids := make([]int64, 0, len(c.members))
	for id := range c.members {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Subtract removes every member of other from c.
func (c *Cohort) Subtract(other *Cohort) {
	if other == nil {
		return
	}
	for id := range other.members {
		delete(c.members, id)
	}
}

func (c *Cohort) Clone() *Cohort {
	return NewCohort(c.MemberIDs()...)
}

// Limit returns a new cohort holding the n lowest ids. n <= 0 means no limit.
func (c *Cohort) Limit(n int) *Cohort {
	ids := c.MemberIDs()
	if n > 0 && len(ids) > n {
		ids = ids[:n]
	}
	return NewCohort(ids...)
}
