package daterange

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Explicit date token formats accepted anywhere a date token is parsed.
var (
	isoDateRE  = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)
	dmySlashRE = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{4})\b`)
	ymdSlashRE = regexp.MustCompile(`\b(\d{4})/(\d{1,2})/(\d{1,2})\b`)
	monDYRE    = regexp.MustCompile(`\b([A-Za-z]{3,9})\s+(\d{1,2}),\s*(\d{4})\b`)
	dMonYRE    = regexp.MustCompile(`\b(\d{1,2})\s+([A-Za-z]{3,9})\s+(\d{4})\b`)
)

var months = map[string]int{
	"jan": 1, "january": 1, "feb": 2, "february": 2, "mar": 3, "march": 3,
	"apr": 4, "april": 4, "may": 5, "jun": 6, "june": 6, "jul": 7, "july": 7,
	"aug": 8, "august": 8, "sep": 9, "sept": 9, "september": 9,
	"oct": 10, "october": 10, "nov": 11, "november": 11, "dec": 12, "december": 12,
}

func parseMonth(name string) int {
	return months[strings.ToLower(strings.TrimSpace(name))]
}

// toISODate validates a calendar date and formats it as YYYY-MM-DD.
// Out-of-range components yield "" rather than a normalized date.
func toISODate(y, m, d int) string {
	if m < 1 || m > 12 || d < 1 {
		return ""
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Year() != y || int(t.Month()) != m || t.Day() != d {
		return ""
	}
	return t.Format(isoLayout)
}

// NormDateToken normalizes a free-form date token to ISO YYYY-MM-DD.
// Returns "" when the token matches no accepted format or names an
// invalid calendar date.
func NormDateToken(token string) string {
	token = strings.TrimSpace(token)

	if m := isoDateRE.FindString(token); m != "" {
		return m
	}
	if m := dmySlashRE.FindStringSubmatch(token); m != nil {
		d, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		y, _ := strconv.Atoi(m[3])
		return toISODate(y, mo, d)
	}
	if m := ymdSlashRE.FindStringSubmatch(token); m != nil {
		y, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		d, _ := strconv.Atoi(m[3])
		return toISODate(y, mo, d)
	}
	if m := monDYRE.FindStringSubmatch(token); m != nil {
		mo := parseMonth(m[1])
		d, _ := strconv.Atoi(m[2])
		y, _ := strconv.Atoi(m[3])
		if mo != 0 {
			return toISODate(y, mo, d)
		}
	}
	if m := dMonYRE.FindStringSubmatch(token); m != nil {
		d, _ := strconv.Atoi(m[1])
		mo := parseMonth(m[2])
		y, _ := strconv.Atoi(m[3])
		if mo != 0 {
			return toISODate(y, mo, d)
		}
	}

	// Bare "Month YYYY" like "Oct 2025" means the first of that month.
	parts := strings.Fields(token)
	if len(parts) == 2 && allDigits(parts[1]) {
		if mo := parseMonth(parts[0]); mo != 0 {
			y, _ := strconv.Atoi(parts[1])
			return toISODate(y, mo, 1)
		}
	}

	return ""
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
