package contract

import "sync"

// Comparison is the outcome of comparing a document with the previous one.
type Comparison struct {
	Hash    string
	Changes []Change
	// First is set when there was no baseline to compare against.
	First bool
	// Changed is set when the canonical hash differs from the baseline.
	Changed bool
}

// Classifier holds the last-seen snapshot of one contract. Each call compares
// against the previous call's input and then replaces the baseline.
type Classifier struct {
	mu       sync.Mutex
	prev     *Snapshot
	prevHash string
}

func NewClassifier() *Classifier { return &Classifier{} }

// Compare normalizes doc, compares it with the baseline and makes it the new
// baseline. Diffing is skipped when the hashes are equal.
func (c *Classifier) Compare(doc any) (Comparison, error) {
	next := Normalize(doc)
	h, err := Hash(next)
	if err != nil {
		return Comparison{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cmp := Comparison{Hash: h}
	switch {
	case c.prev == nil:
		cmp.First = true
		cmp.Changed = true
	case c.prevHash != h:
		cmp.Changed = true
		cmp.Changes = Diff(*c.prev, next)
	}
	c.prev = &next
	c.prevHash = h
	return cmp, nil
}

// HasSignificantChanges reports whether doc differs from the previous
// document by at least one major or minor change. The first call always
// returns true.
func (c *Classifier) HasSignificantChanges(doc any) bool {
	cmp, err := c.Compare(doc)
	if err != nil {
		return true
	}
	return cmp.First || Significant(cmp.Changes)
}

// Baseline returns the hash of the last compared document, or "" before the
// first call.
func (c *Classifier) Baseline() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prevHash
}

// Reset drops the baseline so the next comparison counts as first.
func (c *Classifier) Reset() {
	c.mu.Lock()
	c.prev = nil
	c.prevHash = ""
	c.mu.Unlock()
}
