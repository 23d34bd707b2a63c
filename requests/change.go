package requests

// ChangeOp classifies a change-feed event.
type ChangeOp string

const (
	OpInsert ChangeOp = "insert"
	OpUpdate ChangeOp = "update"
	OpDelete ChangeOp = "delete"
)

// Change is one event on the store's change feed. Old carries the row image
// before the mutation (update and delete), New the image after it (insert
// and update).
type Change struct {
	Op  ChangeOp        `json:"op"`
	Old *SessionRequest `json:"old,omitempty"`
	New *SessionRequest `json:"new,omitempty"`
}

// Subject returns the row image used to decide who may observe the change:
// the new image for inserts and updates, the old image for deletes. The old
// image matters for deletes so a requester is still notified after a
// provider-initiated rejection removes the row.
func (c Change) Subject() *SessionRequest {
	if c.Op == OpDelete {
		return c.Old
	}
	return c.New
}

// Clone deep-copies the change so subscribers can hold it past delivery.
func (c Change) Clone() Change {
	return Change{Op: c.Op, Old: c.Old.Clone(), New: c.New.Clone()}
}
