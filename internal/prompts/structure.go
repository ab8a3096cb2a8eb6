package prompts

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"roomRenderAi/internal/design"
)

type elementKind struct {
	noun    string
	pattern *regexp.Regexp
	exclude []string
}

var (
	kindWindow = elementKind{noun: "window", pattern: regexp.MustCompile(`\bwindows?\b|窗`), exclude: []string{"window sill", "窗簾", "窗帘", "窗台"}}
	kindDoor   = elementKind{noun: "door", pattern: regexp.MustCompile(`\bdoors?\b|門|门`), exclude: []string{"門口", "门口"}}
	kindColumn = elementKind{noun: "column", pattern: regexp.MustCompile(`\b(?:columns?|pillars?)\b|柱`)}
	kindBeam   = elementKind{noun: "beam", pattern: regexp.MustCompile(`\bbeams?\b|梁|樑`)}
)

var (
	clauseSplit   = regexp.MustCompile(`[.;!?。；！？\n]+|,\s*|，|、|\band\b|和|及`)
	negation      = regexp.MustCompile(`(?i)\b(no|without|none)\b|沒有|没有|無|无`)
	englishCount  = regexp.MustCompile(`(?i)\b(\d+|one|two|three|four|five|a|an|single)\s+(?:large\s+|small\s+|big\s+|tall\s+|wide\s+|sliding\s+|french\s+)*(?:windows?|doors?|columns?|pillars?|beams?)\b`)
	chineseCount  = regexp.MustCompile(`([一二兩两三四五\d])\s*(?:扇|個|个|道|根|條|条)?\s*(?:落地)?(?:窗|門|门|柱|梁|樑)`)
	wordToNumeral = map[string]int{
		"a": 1, "an": 1, "one": 1, "single": 1, "two": 2, "three": 3, "four": 4, "five": 5,
		"一": 1, "二": 2, "兩": 2, "两": 2, "三": 3, "四": 4, "五": 5,
	}
	rawShellWords = []string{"bare concrete", "unfinished", "raw shell", "shell condition", "exposed concrete", "毛坯", "清水房"}
)

// ExtractStructure turns vision output into short enforceable clauses.
// Structured extraction wins per element kind; the free-text summary only
// fills kinds the extraction does not report. Nothing is emitted for
// elements that were not detected.
func ExtractStructure(summary string, s *design.Structure) []string {
	if s == nil {
		s = &design.Structure{}
	}
	text := parseSummary(summary)

	windows := s.Windows
	if len(windows) == 0 {
		windows = text.windows
	}
	doors := s.Doors
	if len(doors) == 0 {
		doors = text.doors
	}
	columns := s.Columns
	if len(columns) == 0 {
		columns = text.columns
	}
	beams := s.Beams
	if len(beams) == 0 {
		beams = text.beams
	}

	var clauses []string
	clauses = append(clauses, openingClauses(kindWindow.noun, windows)...)
	clauses = append(clauses, openingClauses(kindDoor.noun, doors)...)
	clauses = append(clauses, elementClauses(columns, "keep the structural column on the %s wall", "keep the existing structural column")...)
	clauses = append(clauses, elementClauses(beams, "keep the ceiling beam along the %s wall", "keep the existing ceiling beam")...)

	for i, c := range clauses {
		clauses[i] = strings.ToUpper(c[:1]) + c[1:] + "."
	}
	return clauses
}

func finishLevel(summary string, s *design.Structure) string {
	if s != nil {
		if level := design.NormalizeFinish(s.FinishLevel); level != design.FinishUnknown {
			return level
		}
	}
	lower := strings.ToLower(summary)
	for _, w := range rawShellWords {
		if strings.Contains(lower, w) {
			return design.FinishRaw
		}
	}
	return design.FinishUnknown
}

func openingClauses(noun string, openings []design.Opening) []string {
	// merge by wall, keeping first-seen order
	var order []string
	counts := map[string]int{}
	seen := map[string]bool{}
	for _, o := range openings {
		wall := design.NormalizeWall(o.Wall)
		if !seen[wall] {
			seen[wall] = true
			order = append(order, wall)
		}
		if o.Count > 0 {
			counts[wall] += o.Count
		}
	}

	var out []string
	for _, wall := range order {
		where := ""
		if wall != "" {
			where = fmt.Sprintf(" on the %s wall", wall)
		}
		n := counts[wall]
		if n == 0 {
			out = append(out, fmt.Sprintf("keep the existing %ss%s unchanged; do not add extra %ss", noun, where, noun))
			continue
		}
		out = append(out, fmt.Sprintf("exactly %d %s%s; do not add extra %ss", n, plural(noun, n), where, noun))
	}
	return out
}

func elementClauses(elements []design.Element, withWall, withoutWall string) []string {
	seen := map[string]bool{}
	var out []string
	for _, e := range elements {
		wall := design.NormalizeWall(e.Wall)
		if seen[wall] {
			continue
		}
		seen[wall] = true
		if wall == "" {
			out = append(out, withoutWall)
			continue
		}
		out = append(out, fmt.Sprintf(withWall, wall))
	}
	return out
}

func plural(noun string, n int) string {
	if n == 1 {
		return noun
	}
	return noun + "s"
}

type summaryCues struct {
	windows []design.Opening
	doors   []design.Opening
	columns []design.Element
	beams   []design.Element
}

func parseSummary(summary string) summaryCues {
	var cues summaryCues
	if strings.TrimSpace(summary) == "" {
		return cues
	}
	for _, clause := range clauseSplit.Split(summary, -1) {
		clause = strings.TrimSpace(clause)
		if clause == "" || negation.MatchString(clause) {
			continue
		}
		lower := strings.ToLower(clause)
		wall := design.NormalizeWall(lower)

		if mentions(lower, kindWindow) {
			cues.windows = append(cues.windows, design.Opening{Wall: wall, Count: countIn(lower)})
		}
		if mentions(lower, kindDoor) {
			cues.doors = append(cues.doors, design.Opening{Wall: wall, Count: countIn(lower)})
		}
		if mentions(lower, kindColumn) {
			cues.columns = append(cues.columns, design.Element{Wall: wall})
		}
		if mentions(lower, kindBeam) {
			cues.beams = append(cues.beams, design.Element{Wall: wall})
		}
	}
	return cues
}

func mentions(clause string, kind elementKind) bool {
	for _, ex := range kind.exclude {
		clause = strings.ReplaceAll(clause, ex, "")
	}
	return kind.pattern.MatchString(clause)
}

// countIn returns the stated count in a clause, or 0 when none is given.
func countIn(clause string) int {
	if m := englishCount.FindStringSubmatch(clause); m != nil {
		return numeral(m[1])
	}
	if m := chineseCount.FindStringSubmatch(clause); m != nil {
		return numeral(m[1])
	}
	return 0
}

func numeral(token string) int {
	token = strings.ToLower(token)
	if n, ok := wordToNumeral[token]; ok {
		return n
	}
	n, err := strconv.Atoi(token)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
