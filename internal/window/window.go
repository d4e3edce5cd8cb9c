// Package window expands an anchor message into the ids of the surrounding
// grouped block, the way the chat client visually merges consecutive
// messages from one author.
package window

// Message is the minimal view of a cached chat message.
type Message struct {
	ID       string `json:"id"`
	AuthorID string `json:"authorId"`
}

// Resolve returns up to n ids, starting with anchor and then alternating
// older and newer neighbours (older first) inside the anchor's same-author
// run. msgs is in chronological order. An anchor missing from msgs
// resolves to just itself.
func Resolve(anchor string, msgs []Message, n int) []string {
	idx := -1
	for i, m := range msgs {
		if m.ID == anchor {
			idx = i
			break
		}
	}
	if idx < 0 || n <= 1 {
		return []string{anchor}
	}

	author := msgs[idx].AuthorID
	start, end := idx, idx
	for start > 0 && msgs[start-1].AuthorID == author {
		start--
	}
	for end < len(msgs)-1 && msgs[end+1].AuthorID == author {
		end++
	}

	out := make([]string, 0, min(n, end-start+1))
	out = append(out, anchor)
	older, newer := idx-1, idx+1
	for len(out) < n && (older >= start || newer <= end) {
		if older >= start {
			out = append(out, msgs[older].ID)
			older--
			if len(out) == n {
				break
			}
		}
		if newer <= end {
			out = append(out, msgs[newer].ID)
			newer++
		}
	}
	return out
}
