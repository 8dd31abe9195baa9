package git

import (
	"strconv"
	"strings"
)

// ParseBranchStatusHeader parses the branch header line emitted by
// `git status --porcelain -b`, the same "## " line internal/git's callers
// skip over when walking the rest of the porcelain status output:
//
//	## <branch>
//	## <branch>...<upstream>
//	## <branch>...<upstream> [ahead X, behind Y]
//
// It returns the current branch name, the tracked upstream (nil when there
// is none), and the ahead/behind counts reported against that upstream (0, 0
// when the header carries no tracking counters).
func ParseBranchStatusHeader(line string) (branch string, upstream *string, ahead int, behind int) {
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, "## ") {
		return "", nil, 0, 0
	}
	rest := strings.TrimPrefix(line, "## ")

	if idx := strings.Index(rest, " ["); idx >= 0 && strings.HasSuffix(rest, "]") {
		counters := rest[idx+2 : len(rest)-1]
		rest = strings.TrimSpace(rest[:idx])
		for _, part := range strings.Split(counters, ",") {
			fields := strings.Fields(strings.TrimSpace(part))
			if len(fields) != 2 {
				continue
			}
			n, err := strconv.Atoi(fields[1])
			if err != nil {
				continue
			}
			switch fields[0] {
			case "ahead":
				ahead = n
			case "behind":
				behind = n
			}
		}
	}

	if idx := strings.Index(rest, "..."); idx >= 0 {
		branch = rest[:idx]
		up := rest[idx+3:]
		upstream = &up
	} else {
		branch = rest
	}

	return branch, upstream, ahead, behind
}
