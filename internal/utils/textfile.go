package utils

import (
	"bufio"
	"io"
	"os"
	"strings"
)

// ReadNonEmptyLines returns all non-empty, trimmed lines of r.
// Lines starting with # are treated as comments.
func ReadNonEmptyLines(r io.Reader) ([]string, error) {
	var lines []string
	s := bufio.NewScanner(r)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// ReadNonEmptyLinesFile reads path, or stdin when path is "-".
func ReadNonEmptyLinesFile(path string) ([]string, error) {
	if path == "-" {
		return ReadNonEmptyLines(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadNonEmptyLines(f)
}
