package jobs

import (
	"fmt"
	"io"
	"iter"
	"slices"
)

// Table is the collection of job records of one process. It is not safe for
// concurrent use, callers serialize access themselves.
type Table struct {
	jobs   map[int]*Job
	order  []int         // insertion order, All walks it backwards
	groups map[int][]int // pgid -> member ids in insertion order
}

func NewTable() *Table {
	return &Table{
		jobs:   make(map[int]*Job),
		groups: make(map[int][]int),
	}
}

func (t *Table) Len() int {
	return len(t.jobs)
}

func (t *Table) Insert(j *Job) error {
	if j == nil {
		return fmt.Errorf("%w: nil job", ErrUnknownJob)
	}
	if _, ok := t.jobs[j.ID]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicateJob, j.ID)
	}
	t.jobs[j.ID] = j
	t.order = append(t.order, j.ID)
	t.groups[j.PGID] = append(t.groups[j.PGID], j.ID)
	return nil
}

func (t *Table) Find(id int) *Job {
	return t.jobs[id]
}

// ChildrenOf yields the members of the process group led by leader, except
// the leader itself, in the order they were inserted.
func (t *Table) ChildrenOf(leader int) iter.Seq[*Job] {
	members := slices.Clone(t.groups[leader])
	return func(yield func(*Job) bool) {
		for _, id := range members {
			if id == leader {
				continue
			}
			j, ok := t.jobs[id]
			if !ok {
				continue
			}
			if !yield(j) {
				return
			}
		}
	}
}

// Remove unlinks the record, it reports false if there was none.
func (t *Table) Remove(id int) bool {
	j, ok := t.jobs[id]
	if !ok {
		return false
	}
	delete(t.jobs, id)
	if i := slices.Index(t.order, id); i >= 0 {
		t.order = slices.Delete(t.order, i, i+1)
	}
	members := t.groups[j.PGID]
	if i := slices.Index(members, id); i >= 0 {
		members = slices.Delete(members, i, i+1)
	}
	if len(members) == 0 {
		delete(t.groups, j.PGID)
	} else {
		t.groups[j.PGID] = members
	}
	return true
}

// All yields every record, newest first.
func (t *Table) All() iter.Seq[*Job] {
	order := slices.Clone(t.order)
	return func(yield func(*Job) bool) {
		for _, id := range slices.Backward(order) {
			j, ok := t.jobs[id]
			if !ok {
				continue
			}
			if !yield(j) {
				return
			}
		}
	}
}

// Show writes one line per job:
//
//	<id>\t<pgid>\t<state>\t<pipeline>
func (t *Table) Show(w io.Writer) error {
	for j := range t.All() {
		_, err := fmt.Fprintf(w, "%d\t%d\t%s\t%s\n", j.ID, j.PGID, j.State, j.Pipeline)
		if err != nil {
			return err
		}
	}
	return nil
}
