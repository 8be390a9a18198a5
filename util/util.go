package util

import (
	"bufio"
	"fmt"
	"io"
	"reflect"
	"strconv"
	"strings"
)

// ListsEqual checks that two lists have the same elements,
// regardless of order.
func ListsEqual(x []string, y []string) bool {
	// Transform each list into a histogram
	xMap := make(map[string]uint)
	yMap := make(map[string]uint)
	for _, element := range x {
		xMap[element]++
	}
	for _, element := range y {
		yMap[element]++
	}
	return reflect.DeepEqual(xMap, yMap)
}

// ValidPort turns a port number into a listen address, e.g. "8080" into
// ":8080".
func ValidPort(port string) (string, error) {
	n, err := strconv.Atoi(port)
	if err != nil {
		return "", fmt.Errorf("given port %s is not a number", port)
	}
	if n < 1 || n > 65535 {
		return "", fmt.Errorf("given port %d is out of range", n)
	}
	return ":" + port, nil
}

// ReadSubjects reads one subject per line. Surrounding whitespace is
// trimmed; blank lines and lines starting with "#" are skipped. Anything
// after the first whitespace of a line (hosts-file style trailing fields)
// is ignored.
func ReadSubjects(r io.Reader) ([]string, error) {
	var subjects []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		subjects = append(subjects, strings.Fields(line)[0])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read subjects: %w", err)
	}
	return subjects, nil
}
