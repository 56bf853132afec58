package port

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"os/exec"
	"sort"
	"strconv"
	"strings"

	psnet "github.com/shirou/gopsutil/v4/net"
)

// DefaultLookup prefers lsof when it is installed and falls back to reading
// the kernel connection table.
func DefaultLookup() OwnerLookup {
	if _, err := exec.LookPath("lsof"); err == nil {
		return LsofLookup{}
	}
	return ProcLookup{}
}

// LsofLookup asks lsof for the listening pids.
type LsofLookup struct{}

func (LsofLookup) Describe() string { return "lsof" }

func (LsofLookup) Owners(ctx context.Context, port int) ([]int, error) {
	// #nosec G204 -- port is an integer
	cmd := exec.CommandContext(ctx, "lsof", "-t", "-iTCP:"+strconv.Itoa(port), "-sTCP:LISTEN")
	out, err := cmd.Output()
	if err != nil {
		// lsof exits 1 when nothing matches
		var ee *exec.ExitError
		if errors.As(err, &ee) && ee.ExitCode() == 1 && len(bytes.TrimSpace(out)) == 0 {
			return nil, nil
		}
		return nil, err
	}
	return parsePIDs(out), nil
}

func parsePIDs(out []byte) []int {
	seen := map[int]struct{}{}
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		pid, err := strconv.Atoi(strings.TrimSpace(sc.Text()))
		if err != nil || pid <= 0 {
			continue
		}
		seen[pid] = struct{}{}
	}
	return sortedKeys(seen)
}

// ProcLookup reads listening sockets through gopsutil.
type ProcLookup struct{}

func (ProcLookup) Describe() string { return "gopsutil" }

func (ProcLookup) Owners(ctx context.Context, port int) ([]int, error) {
	conns, err := psnet.ConnectionsWithContext(ctx, "tcp")
	if err != nil {
		return nil, err
	}
	seen := map[int]struct{}{}
	for _, c := range conns {
		if c.Status != "LISTEN" || int(c.Laddr.Port) != port || c.Pid <= 0 {
			continue
		}
		seen[int(c.Pid)] = struct{}{}
	}
	return sortedKeys(seen), nil
}

func sortedKeys(m map[int]struct{}) []int {
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}
