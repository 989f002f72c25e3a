package modpolicy

import (
	"fmt"
	"strconv"
	"strings"
)

// semver is a bare major.minor.patch triple. Missing components default to
// zero, so "1" and "1.0" and "1.0.0" compare equal.
type semver struct {
	major, minor, patch int
}

func parseSemver(s string) (semver, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ".", 3)
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return semver{}, fmt.Errorf("invalid version component %q: %w", p, err)
		}
		nums[i] = n
	}
	return semver{major: nums[0], minor: nums[1], patch: nums[2]}, nil
}

// compare returns -1, 0, or 1 as a is less than, equal to, or greater than b.
func (a semver) compare(b semver) int {
	switch {
	case a.major != b.major:
		return sign(a.major - b.major)
	case a.minor != b.minor:
		return sign(a.minor - b.minor)
	default:
		return sign(a.patch - b.patch)
	}
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	default:
		return 0
	}
}

// versionInRange reports whether version satisfies a policy range
// expression: one or more comma-separated comparisons (">=1.0.0,<2.0.0"),
// each using one of >=, <=, >, <, == or =. An empty rng matches anything. A
// malformed rng or version is treated as non-matching rather than returned
// as an error, since a policy entry's Version field is operator-authored
// text that the core cannot afford to panic on.
func versionInRange(version, rng string) bool {
	if rng == "" {
		return true
	}
	v, err := parseSemver(version)
	if err != nil {
		return false
	}
	for _, clause := range strings.Split(rng, ",") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		op, rest := splitOperator(clause)
		want, err := parseSemver(rest)
		if err != nil {
			return false
		}
		cmp := v.compare(want)
		var ok bool
		switch op {
		case ">=":
			ok = cmp >= 0
		case "<=":
			ok = cmp <= 0
		case ">":
			ok = cmp > 0
		case "<":
			ok = cmp < 0
		case "==", "=", "":
			ok = cmp == 0
		default:
			ok = false
		}
		if !ok {
			return false
		}
	}
	return true
}

func splitOperator(clause string) (op, rest string) {
	for _, candidate := range []string{">=", "<=", "==", ">", "<", "="} {
		if strings.HasPrefix(clause, candidate) {
			return candidate, strings.TrimSpace(clause[len(candidate):])
		}
	}
	return "", clause
}
