package availability

import (
	"strconv"
	"strings"
)

// DefaultDurationMinutes is used whenever a duration cannot be read.
const DefaultDurationMinutes = 60

// ParseDuration reads a meeting length such as "30 minutes" or "45".
// Only the leading whitespace-delimited token is considered and it is
// taken as minutes. Anything unreadable or not positive yields
// DefaultDurationMinutes.
func ParseDuration(s string) int {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return DefaultDurationMinutes
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil || n <= 0 {
		return DefaultDurationMinutes
	}
	return n
}
