package collect

import (
	"bufio"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// Counters are the record counts a collector reports on stdout. Any counter
// the collector does not print is zero.
type Counters struct {
	Fetched int `json:"fetched"`
	Saved   int `json:"saved"`
	Skipped int `json:"skipped"`
}

// resultPrefix starts the structured result line. When present it wins over
// the legacy regex counters, which stay accepted during migration.
const resultPrefix = "SOFIA_RESULT "

var (
	fetchedRe = regexp.MustCompile(`(?i)\b(?:fetched|collected|found)\s*[:=]\s*(\d+)`)
	savedRe   = regexp.MustCompile(`(?i)\b(?:saved|inserted|upserted)\s*[:=]\s*(\d+)`)
	skippedRe = regexp.MustCompile(`(?i)\b(?:skipped|duplicates?|ignored)\s*[:=]\s*(\d+)`)
)

// ParseCounters extracts counters from combined child output. A structured
// SOFIA_RESULT {json} line takes precedence; otherwise the last match of
// each legacy pattern is used.
func ParseCounters(output string) Counters {
	if c, ok := parseStructured(output); ok {
		return c
	}

	var c Counters
	c.Fetched = lastMatch(fetchedRe, output)
	c.Saved = lastMatch(savedRe, output)
	c.Skipped = lastMatch(skippedRe, output)
	return c
}

func parseStructured(output string) (Counters, bool) {
	sc := bufio.NewScanner(strings.NewReader(output))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var c Counters
	found := false
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, resultPrefix) {
			continue
		}
		var parsed Counters
		if err := json.Unmarshal([]byte(line[len(resultPrefix):]), &parsed); err != nil {
			continue
		}
		c = parsed
		found = true // last structured line wins
	}
	return c, found
}

func lastMatch(re *regexp.Regexp, s string) int {
	matches := re.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return 0
	}
	n, err := strconv.Atoi(matches[len(matches)-1][1])
	if err != nil || n < 0 {
		return 0
	}
	return n
}
