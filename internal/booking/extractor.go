package booking

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/docuchat/backend/internal/domain"
	"github.com/docuchat/backend/pkg/logger"
)

const systemPrompt = `You extract interview booking details from user text.
Respond ONLY with a JSON object, no additional text. Fields: name, email, date, time.
Use ISO date format YYYY-MM-DD. Use HH:MM 24h format for time.
If a field is not present in the text, set it to "Unknown".`

var (
	intentVerbs = regexp.MustCompile(`(?i)\b(book|schedule|interview|appointment)\b`)

	emailRe      = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	jsonObjectRe = regexp.MustCompile(`\{[\s\S]*\}`)

	isoDateRe   = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	slashDateRe = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{4})\b`)

	monthPattern = `Jan(?:uary)?|Feb(?:ruary)?|Mar(?:ch)?|Apr(?:il)?|May|Jun(?:e)?|Jul(?:y)?|Aug(?:ust)?|Sep(?:tember)?|Oct(?:ober)?|Nov(?:ember)?|Dec(?:ember)?`
	monthFirstRe = regexp.MustCompile(`(?i)\b(` + monthPattern + `)\s+(\d{1,2})(?:st|nd|rd|th)?,?\s+(\d{4})\b`)
	dayFirstRe   = regexp.MustCompile(`(?i)\b(\d{1,2})(?:st|nd|rd|th)?\s+(?:of\s+)?(` + monthPattern + `)\s+(\d{4})\b`)

	clockRe     = regexp.MustCompile(`\b(\d{1,2}):(\d{2})(?:\s*([AaPp])\.?[Mm]\.?)?`)
	hourMeridRe = regexp.MustCompile(`\b(\d{1,2})\s*([AaPp])\.?[Mm]\.?\b`)

	nameLabelRe = regexp.MustCompile(`\b[Nn]ame\s*(?:[Ii]s|:|-)?\s+([A-Z][A-Za-z'\-]*(?:\s+[A-Z][A-Za-z'\-]*)*)`)
	wordRe      = regexp.MustCompile(`[A-Za-z][A-Za-z'\-]*`)
)

var months = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

// IsBookingIntent reports whether a query looks like a booking request: a
// booking verb combined with an email- or date-shaped token. Deliberately a
// keyword heuristic, matching the behavior the chat flow was built around.
func IsBookingIntent(query string) bool {
	if !intentVerbs.MatchString(query) {
		return false
	}
	if emailRe.MatchString(query) {
		return true
	}
	_, _, ok := findDate(query)
	return ok
}

// Extractor parses booking requests into validated records. The LLM path
// runs first under a strict output contract; any structural or validation
// failure falls through to the regex parser exactly once.
type Extractor struct {
	gen domain.Generator
}

func NewExtractor(gen domain.Generator) *Extractor {
	return &Extractor{gen: gen}
}

func (e *Extractor) Extract(ctx context.Context, raw string) (domain.BookingRecord, error) {
	rec, err := e.llmExtract(ctx, raw)
	if err == nil {
		return rec, nil
	}

	logger.Debug("LLM extraction failed, falling back to regex", zap.Error(err))

	return regexExtract(raw)
}

func (e *Extractor) llmExtract(ctx context.Context, raw string) (domain.BookingRecord, error) {
	var rec domain.BookingRecord

	out, err := e.gen.Generate(ctx, systemPrompt, "User text:\n"+raw)
	if err != nil {
		return rec, err
	}

	obj := jsonObjectRe.FindString(out)
	if obj == "" {
		return rec, fmt.Errorf("%w: no JSON object in extraction output", domain.ErrLLMMalformed)
	}

	var payload struct {
		Name  string `json:"name"`
		Email string `json:"email"`
		Date  string `json:"date"`
		Time  string `json:"time"`
	}
	if err := json.Unmarshal([]byte(obj), &payload); err != nil {
		return rec, fmt.Errorf("%w: parse extraction output: %v", domain.ErrLLMMalformed, err)
	}

	name := strings.TrimSpace(payload.Name)
	if name == "" || strings.EqualFold(name, "unknown") {
		return rec, fmt.Errorf("%w: name missing", domain.ErrLLMMalformed)
	}
	email := strings.TrimSpace(payload.Email)
	if !validEmail(email) {
		return rec, fmt.Errorf("%w: invalid email %q", domain.ErrLLMMalformed, payload.Email)
	}
	date, ok := normalizeDate(strings.TrimSpace(payload.Date))
	if !ok {
		return rec, fmt.Errorf("%w: invalid date %q", domain.ErrLLMMalformed, payload.Date)
	}
	clock, ok := normalizeTime(strings.TrimSpace(payload.Time))
	if !ok {
		return rec, fmt.Errorf("%w: invalid time %q", domain.ErrLLMMalformed, payload.Time)
	}

	return domain.BookingRecord{
		Name:     name,
		Email:    email,
		Date:     date,
		Time:     clock,
		Source:   domain.ExtractionLLM,
		RawQuery: raw,
	}, nil
}

// regexExtract searches the raw text for each field independently and fails
// as a unit when any of the four cannot be located.
func regexExtract(raw string) (domain.BookingRecord, error) {
	var rec domain.BookingRecord
	var claimed []span
	var missing []string

	email := emailRe.FindStringIndex(raw)
	if email != nil {
		claimed = append(claimed, span{email[0], email[1]})
	} else {
		missing = append(missing, "email")
	}

	date, dateSpan, dateOK := findDate(raw)
	if dateOK {
		claimed = append(claimed, dateSpan)
	} else {
		missing = append(missing, "date")
	}

	clock, clockSpan, clockOK := findTime(raw)
	if clockOK {
		claimed = append(claimed, clockSpan)
	} else {
		missing = append(missing, "time")
	}

	name := findName(raw, claimed)
	if name == "" {
		missing = append(missing, "name")
	}

	if len(missing) > 0 {
		return rec, fmt.Errorf("%w: missing %s", domain.ErrExtractionIncomplete, strings.Join(missing, ", "))
	}

	return domain.BookingRecord{
		Name:     name,
		Email:    raw[email[0]:email[1]],
		Date:     date,
		Time:     clock,
		Source:   domain.ExtractionRegex,
		RawQuery: raw,
	}, nil
}

type span struct {
	start, end int
}

func (s span) overlaps(start, end int) bool {
	return start < s.end && end > s.start
}

func validEmail(s string) bool {
	loc := emailRe.FindStringIndex(s)
	return loc != nil && loc[0] == 0 && loc[1] == len(s)
}

// findDate tries the supported date shapes in fixed priority order and
// returns the normalized ISO date of the first valid hit. Every occurrence of
// a shape is checked, so a malformed token cannot mask a valid date later in
// the text.
func findDate(text string) (string, span, bool) {
	for _, m := range isoDateRe.FindAllStringSubmatchIndex(text, -1) {
		if date, ok := buildDate(text[m[2]:m[3]], text[m[4]:m[5]], text[m[6]:m[7]]); ok {
			return date, span{m[0], m[1]}, true
		}
	}
	for _, m := range slashDateRe.FindAllStringSubmatchIndex(text, -1) {
		// Day-first, per the common written form of the source texts.
		if date, ok := buildDate(text[m[6]:m[7]], text[m[4]:m[5]], text[m[2]:m[3]]); ok {
			return date, span{m[0], m[1]}, true
		}
	}
	for _, m := range monthFirstRe.FindAllStringSubmatchIndex(text, -1) {
		if month, ok := months[strings.ToLower(text[m[2]:m[3]])[:3]]; ok {
			if date, dok := buildDateParts(text[m[6]:m[7]], month, text[m[4]:m[5]]); dok {
				return date, span{m[0], m[1]}, true
			}
		}
	}
	for _, m := range dayFirstRe.FindAllStringSubmatchIndex(text, -1) {
		if month, ok := months[strings.ToLower(text[m[4]:m[5]])[:3]]; ok {
			if date, dok := buildDateParts(text[m[6]:m[7]], month, text[m[2]:m[3]]); dok {
				return date, span{m[0], m[1]}, true
			}
		}
	}
	return "", span{}, false
}

func buildDate(year, month, day string) (string, bool) {
	mo, err := strconv.Atoi(month)
	if err != nil || mo < 1 || mo > 12 {
		return "", false
	}
	return buildDateParts(year, time.Month(mo), day)
}

func buildDateParts(year string, month time.Month, day string) (string, bool) {
	y, err := strconv.Atoi(year)
	if err != nil {
		return "", false
	}
	d, err := strconv.Atoi(day)
	if err != nil {
		return "", false
	}
	t := time.Date(y, month, d, 0, 0, 0, 0, time.UTC)
	if t.Year() != y || t.Month() != month || t.Day() != d {
		return "", false
	}
	return t.Format("2006-01-02"), true
}

func findTime(text string) (string, span, bool) {
	if m := clockRe.FindStringSubmatchIndex(text); m != nil {
		meridiem := ""
		if m[6] >= 0 {
			meridiem = text[m[6]:m[7]]
		}
		if clock, ok := buildTime(text[m[2]:m[3]], text[m[4]:m[5]], meridiem); ok {
			return clock, span{m[0], m[1]}, true
		}
	}
	if m := hourMeridRe.FindStringSubmatchIndex(text); m != nil {
		if clock, ok := buildTime(text[m[2]:m[3]], "00", text[m[4]:m[5]]); ok {
			return clock, span{m[0], m[1]}, true
		}
	}
	return "", span{}, false
}

func buildTime(hour, minute, meridiem string) (string, bool) {
	h, err := strconv.Atoi(hour)
	if err != nil {
		return "", false
	}
	m, err := strconv.Atoi(minute)
	if err != nil || m < 0 || m > 59 {
		return "", false
	}

	switch strings.ToLower(meridiem) {
	case "p":
		if h < 1 || h > 12 {
			return "", false
		}
		if h != 12 {
			h += 12
		}
	case "a":
		if h < 1 || h > 12 {
			return "", false
		}
		if h == 12 {
			h = 0
		}
	default:
		if h < 0 || h > 23 {
			return "", false
		}
	}

	return fmt.Sprintf("%02d:%02d", h, m), true
}

// findName prefers an explicit "name is X" / "name: X" label; otherwise the
// longest run of capitalized words outside the already claimed email, date
// and time substrings is taken as the name.
func findName(raw string, claimed []span) string {
	if m := nameLabelRe.FindStringSubmatch(raw); m != nil {
		return m[1]
	}

	tokens := wordRe.FindAllStringIndex(raw, -1)
	var best, cur []int // token start offsets of the best and current run
	var bestText, curText string

	flush := func() {
		if len(cur) > len(best) {
			best, bestText = cur, curText
		}
		cur, curText = nil, ""
	}

	prevEnd := -1
	for _, tok := range tokens {
		word := raw[tok[0]:tok[1]]
		overlapped := false
		for _, c := range claimed {
			if c.overlaps(tok[0], tok[1]) {
				overlapped = true
				break
			}
		}
		upper := word[0] >= 'A' && word[0] <= 'Z'
		contiguous := prevEnd >= 0 && strings.TrimSpace(raw[prevEnd:tok[0]]) == ""

		if overlapped || !upper || (len(cur) > 0 && !contiguous) {
			flush()
			if !overlapped && upper {
				cur = []int{tok[0]}
				curText = word
			}
		} else if len(cur) == 0 {
			cur = []int{tok[0]}
			curText = word
		} else {
			cur = append(cur, tok[0])
			curText += " " + word
		}
		prevEnd = tok[1]
	}
	flush()

	if len(best) == 0 {
		return ""
	}
	return bestText
}

func normalizeDate(s string) (string, bool) {
	date, sp, ok := findDate(s)
	if !ok || sp.start != 0 || sp.end != len(s) {
		return "", false
	}
	return date, true
}

func normalizeTime(s string) (string, bool) {
	clock, sp, ok := findTime(s)
	if !ok || sp.start != 0 || sp.end != len(s) {
		return "", false
	}
	return clock, true
}
