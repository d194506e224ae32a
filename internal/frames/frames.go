// Package frames parses frame range expressions such as "1-3,8,11-15".
package frames

import (
	"fmt"
	"strconv"
	"strings"
)

// Parse expands a frame range expression into an ordered list of distinct
// frame numbers. Tokens are comma separated; each token is a single
// non-negative integer or an inclusive "start-end" range. Frames appear in
// the order their token was first seen, ranges expanded in place, duplicates
// dropped.
func Parse(expr string) ([]int, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, fmt.Errorf("frame range is empty")
	}

	var out []int
	seen := make(map[int]bool)

	for i, token := range strings.Split(expr, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			return nil, fmt.Errorf("frame range token %d is empty", i)
		}

		start, end, err := parseToken(token)
		if err != nil {
			return nil, fmt.Errorf("frame range token %q: %w", token, err)
		}

		for f := start; f <= end; f++ {
			if seen[f] {
				continue
			}
			seen[f] = true
			out = append(out, f)
		}
	}

	return out, nil
}

// parseToken returns the inclusive [start, end] interval for one token.
// A bare integer yields start == end.
func parseToken(token string) (int, int, error) {
	// Split on the first dash. Frames are non-negative, so a leading dash is
	// not a sign.
	if idx := strings.Index(token, "-"); idx >= 0 {
		startS := strings.TrimSpace(token[:idx])
		endS := strings.TrimSpace(token[idx+1:])

		start, err := parseFrame(startS)
		if err != nil {
			return 0, 0, err
		}
		end, err := parseFrame(endS)
		if err != nil {
			return 0, 0, err
		}
		if start > end {
			return 0, 0, fmt.Errorf("range start %d is greater than end %d", start, end)
		}
		return start, end, nil
	}

	f, err := parseFrame(token)
	if err != nil {
		return 0, 0, err
	}
	return f, f, nil
}

func parseFrame(s string) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("missing frame number")
	}
	f, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%q is not an integer", s)
	}
	if f < 0 {
		return 0, fmt.Errorf("frame %d is negative", f)
	}
	return f, nil
}
