package notedb

import (
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Footer keys written into note commits. The parser below is the inverse;
// both sides must agree because hashtag recovery re-reads old commits.
const (
	FooterPatchSet        = "Patch-set"
	FooterPatchSetState   = "Patch-set-state"
	FooterBranch          = "Branch"
	FooterChangeID        = "Change-id"
	FooterSubject         = "Subject"
	FooterCommit          = "Commit"
	FooterMissingCommit   = "Missing-commit"
	FooterGroups          = "Groups"
	FooterLabel           = "Label"
	FooterReviewer        = "Reviewer"
	FooterCC              = "CC"
	FooterRemoved         = "Removed"
	FooterComment         = "Comment"
	FooterTopic           = "Topic"
	FooterStatus          = "Status"
	FooterSubmissionID    = "Submission-id"
	FooterAssignee        = "Assignee"
	FooterCurrentPatchSet = "Current-patch-set"
	FooterHashtags        = "Hashtags"
	FooterTag             = "Tag"
)

// Footer is one "Key: value" line in a commit's trailing footer block.
type Footer struct {
	Key   string
	Value string
}

// renderFooter formats one footer line. Values are NFC normalized so that
// content-addressed commit SHAs do not depend on the Unicode form the legacy
// store happened to record.
func renderFooter(key, value string) string {
	return key + ": " + norm.NFC.String(value) + "\n"
}

// ParseFooters extracts the trailing footer block of a commit message.
// A footer line is "Key: value" with a capitalized key; the block is the
// run of footer lines at the end of the message. Malformed lines terminate
// the block rather than erroring: footer parsing is best effort.
func ParseFooters(message string) []Footer {
	lines := strings.Split(strings.TrimRight(message, "\n"), "\n")
	var footers []Footer
	for i := len(lines) - 1; i >= 0; i-- {
		key, value, ok := splitFooterLine(lines[i])
		if !ok {
			break
		}
		footers = append(footers, Footer{Key: key, Value: value})
	}
	// Collected back to front; restore message order.
	for i, j := 0, len(footers)-1; i < j; i, j = i+1, j-1 {
		footers[i], footers[j] = footers[j], footers[i]
	}
	return footers
}

func splitFooterLine(line string) (key, value string, ok bool) {
	idx := strings.Index(line, ": ")
	if idx <= 0 {
		return "", "", false
	}
	key = line[:idx]
	if key[0] < 'A' || key[0] > 'Z' {
		return "", "", false
	}
	return key, line[idx+2:], true
}

// footerValues returns every value recorded for one key, in message order.
func footerValues(footers []Footer, key string) []string {
	var vals []string
	for _, f := range footers {
		if f.Key == key {
			vals = append(vals, f.Value)
		}
	}
	return vals
}

// PatchSetNumFromFooters recovers the patch set number from a commit's
// footers. Returns ok=false when the footer is absent, repeated, or not a
// number; callers skip such commits silently.
func PatchSetNumFromFooters(footers []Footer) (int, bool) {
	vals := footerValues(footers, FooterPatchSet)
	if len(vals) != 1 {
		return 0, false
	}
	n, err := strconv.Atoi(vals[0])
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// HashtagsFromFooters recovers the hashtag set from a commit's footers.
// Exactly one Hashtags footer is expected; an empty value means the commit
// cleared all hashtags. Returns ok=false for absent or repeated footers.
func HashtagsFromFooters(footers []Footer) ([]string, bool) {
	vals := footerValues(footers, FooterHashtags)
	if len(vals) != 1 {
		return nil, false
	}
	if vals[0] == "" {
		return []string{}, true
	}
	parts := strings.Split(vals[0], ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			tags = append(tags, p)
		}
	}
	return tags, true
}

// renderHashtags formats a hashtag set for the Hashtags footer. Sorted so
// the rendering, and with it the commit SHA, is deterministic.
func renderHashtags(tags []string) string {
	sorted := make([]string, len(tags))
	copy(sorted, tags)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}
