package comm

// Group is one member's view of a process group. Every member of the
// group holds its own Group value; collective calls (Barrier, Split)
// must be entered by all members.
type Group interface {
	// Rank returns this member's index within the group, 0 <= rank < Size.
	Rank() int

	// Size returns the number of members in the group.
	Size() int

	// Barrier blocks until every member of the group has entered it.
	Barrier()

	// Split partitions the group by color: members passing the same
	// color form a new group, ordered by key (ties broken by rank).
	// Collective: every member must call it. A negative color opts out
	// and yields a nil group.
	Split(color, key int) Group
}
