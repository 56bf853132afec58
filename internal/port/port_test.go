package port

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLookup struct {
	pids []int
	err  error
}

func (f fakeLookup) Owners(context.Context, int) ([]int, error) { return f.pids, f.err }
func (fakeLookup) Describe() string                             { return "fake" }

func listen(t *testing.T) (net.Listener, int) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return l, l.Addr().(*net.TCPAddr).Port
}

func freePort(t *testing.T) int {
	t.Helper()
	l, p := listen(t)
	require.NoError(t, l.Close())
	return p
}

func TestIsBound(t *testing.T) {
	in := &Inspector{}
	l, p := listen(t)
	assert.True(t, in.IsBound(p))
	require.NoError(t, l.Close())
	assert.False(t, in.IsBound(p))
}

func TestFree_NotBoundIsNoop(t *testing.T) {
	in := &Inspector{Lookup: fakeLookup{err: errors.New("must not be called")}}
	killed, err := in.Free(context.Background(), freePort(t))
	assert.NoError(t, err)
	assert.Empty(t, killed)
}

func TestFree_KillsOwnersAndReverifies(t *testing.T) {
	l, p := listen(t)
	var once sync.Once
	var got []int
	in := &Inspector{
		Lookup: fakeLookup{pids: []int{4242, os.Getpid()}},
		Kill: func(pid int) error {
			got = append(got, pid)
			once.Do(func() { _ = l.Close() })
			return nil
		},
		Settle: 20 * time.Millisecond,
	}
	killed, err := in.Free(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, []int{4242}, killed)
	assert.Equal(t, []int{4242}, got, "own pid is never killed")
}

func TestFree_StillBoundIsConflict(t *testing.T) {
	l, p := listen(t)
	defer l.Close()
	in := &Inspector{
		Lookup: fakeLookup{pids: []int{777}},
		Kill:   func(int) error { return errors.New("operation not permitted") },
		Settle: 10 * time.Millisecond,
	}
	_, err := in.Free(context.Background(), p)
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, p, ce.Port)
	assert.Equal(t, []int{777}, ce.PIDs)
	assert.Contains(t, err.Error(), "could not be freed")
}

func TestFree_LookupFailureIsConflict(t *testing.T) {
	l, p := listen(t)
	defer l.Close()
	in := &Inspector{Lookup: fakeLookup{err: errors.New("lsof missing")}}
	_, err := in.Free(context.Background(), p)
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, err.Error(), "lsof missing")
}

func TestParsePIDs(t *testing.T) {
	assert.Equal(t, []int{12, 99}, parsePIDs([]byte("99\n12\n\nabc\n12\n")))
}
