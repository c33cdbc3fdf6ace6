package trace

import (
	"bufio"
	"fmt"
	"os"
)

// Header separates appended runs inside a trace list.
const Header = "======TRACE=ADDRESSES======"

// AppendFile appends one run of trace addresses to the list at path,
// creating the file when missing. A run is the header line followed by
// one lowercase hex address per line. The whole run is buffered and
// flushed once.
func AppendFile(path string, traces []uint64) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open trace list: %w", err)
	}

	w := bufio.NewWriter(f)
	fmt.Fprintln(w, Header)
	for _, t := range traces {
		fmt.Fprintf(w, "0x%x\n", t)
	}

	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("write trace list: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close trace list: %w", err)
	}
	return nil
}
