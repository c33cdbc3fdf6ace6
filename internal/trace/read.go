package trace

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Run is one appended section of a trace list: the addresses recorded
// by a single extraction pass.
type Run struct {
	Addrs []uint64
}

// ParseList reads a trace list. Runs are delimited by the header line;
// blank lines are skipped. Content before the first header is rejected,
// as is any line that does not parse as a hex address.
func ParseList(r io.Reader) ([]Run, error) {
	sc := bufio.NewScanner(r)
	var runs []Run
	lineno := 0
	for sc.Scan() {
		lineno++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if line == Header {
			runs = append(runs, Run{})
			continue
		}
		if len(runs) == 0 {
			return nil, fmt.Errorf("trace list line %d: address before header", lineno)
		}
		addr, err := ParseAddr(line)
		if err != nil {
			return nil, fmt.Errorf("trace list line %d: %w", lineno, err)
		}
		cur := &runs[len(runs)-1]
		cur.Addrs = append(cur.Addrs, addr)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read trace list: %w", err)
	}
	return runs, nil
}

// ReadFile parses the trace list at path.
func ReadFile(path string) ([]Run, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trace list: %w", err)
	}
	defer f.Close()
	return ParseList(f)
}

// ParseAddr parses one trace list address. Lists written by older
// tooling carry python-style values like 0x400000L; both the prefix
// and the suffix are accepted.
func ParseAddr(s string) (uint64, error) {
	v := strings.TrimSuffix(s, "L")
	v = strings.TrimPrefix(v, "0x")
	addr, err := strconv.ParseUint(v, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("bad trace address %q", s)
	}
	return addr, nil
}
