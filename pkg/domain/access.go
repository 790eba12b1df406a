package domain

// CanRead decides read permission for a paste. Public pastes are
// readable by anyone, private pastes only by their owner. Anonymous
// requesters (AnonymousUser) never match an owner.
func CanRead(ownerID int64, isPublic bool, requesterID int64) bool {
	if isPublic {
		return true
	}
	return requesterID != AnonymousUser && requesterID == ownerID
}

// CanDelete requires ownership regardless of visibility. Anonymous
// pastes cannot be deleted through this predicate at all: nobody owns
// them.
func CanDelete(ownerID, requesterID int64) bool {
	return requesterID != AnonymousUser && requesterID == ownerID
}
