package notedb

import (
	"fmt"

	"github.com/relogdev/relog/internal/model"
)

// Ref name layout. Changes are sharded by the last two digits of the change
// number, matching the layout of the original review system so existing
// tooling can locate a change's history.

// MetaRef returns the public history ref for a change.
func MetaRef(id model.ChangeID) string {
	return fmt.Sprintf("refs/changes/%02d/%d/meta", id%100, id)
}

// DraftRefPrefix returns the prefix under which all draft refs for a change
// live. Deleting every ref with this prefix removes all authors' drafts.
func DraftRefPrefix(id model.ChangeID) string {
	return fmt.Sprintf("refs/draft-comments/%02d/%d/", id%100, id)
}

// DraftRef returns the private draft ref for one author on a change.
func DraftRef(id model.ChangeID, author model.AccountID) string {
	return fmt.Sprintf("%s%d", DraftRefPrefix(id), author)
}
