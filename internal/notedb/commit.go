package notedb

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"

	"github.com/relogdev/relog/internal/model"
)

// Commit is one entry in a note ref's history chain.
type Commit struct {
	SHA        string
	Parent     string // empty for the root commit of a ref
	Author     model.AccountID
	RealAuthor model.AccountID
	WhenMillis int64
	Message    string
}

// Footers parses the commit's trailing footer block.
func (c *Commit) Footers() []Footer {
	return ParseFooters(c.Message)
}

// computeSHA derives the content-addressed identity of a commit. The parent
// SHA is part of the input, so a chain's head SHA commits to the entire
// history, like a git ref.
func computeSHA(parent string, author, realAuthor model.AccountID, whenMillis int64, message string) string {
	h := sha1.New()
	fmt.Fprintf(h, "note/v1\nparent %s\nauthor %d %d %d\n\n%s", parent, author, realAuthor, whenMillis, message)
	return hex.EncodeToString(h.Sum(nil))
}
