package process

import "sync"

const tailLines = 20

// tailBuffer keeps the last n lines written to it.
type tailBuffer struct {
	mu    sync.Mutex
	n     int
	lines []string
}

func newTailBuffer(n int) *tailBuffer { return &tailBuffer{n: n} }

func (t *tailBuffer) add(line string) {
	t.mu.Lock()
	t.lines = append(t.lines, line)
	if over := len(t.lines) - t.n; over > 0 {
		t.lines = append(t.lines[:0:0], t.lines[over:]...)
	}
	t.mu.Unlock()
}

func (t *tailBuffer) snapshot() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.lines...)
}
