package datetime

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// defaultHour is used when a phrase names a day but no time of day.
	defaultHour = 9

	// DefaultDuration is the span length when a phrase has no end or duration.
	DefaultDuration = time.Hour
)

// Span is a resolved start/end pair.
type Span struct {
	Start time.Time
	End   time.Time
}

// Interpreter resolves phrases relative to its clock and location.
// It is safe for concurrent use.
type Interpreter struct {
	loc *time.Location
	now func() time.Time
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithLocation sets the timezone phrases are interpreted in (default: local).
func WithLocation(loc *time.Location) Option {
	return func(i *Interpreter) {
		if loc != nil {
			i.loc = loc
		}
	}
}

// WithClock overrides the clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(i *Interpreter) {
		if now != nil {
			i.now = now
		}
	}
}

// New creates an Interpreter.
func New(opts ...Option) *Interpreter {
	i := &Interpreter{loc: time.Local, now: time.Now}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Location returns the interpreter's timezone.
func (i *Interpreter) Location() *time.Location {
	return i.loc
}

// In returns a copy of the interpreter that resolves phrases in loc.
func (i *Interpreter) In(loc *time.Location) *Interpreter {
	c := *i
	if loc != nil {
		c.loc = loc
	}
	return &c
}

// Now returns the current instant in the interpreter's timezone.
func (i *Interpreter) Now() time.Time {
	return i.now().In(i.loc)
}

type absoluteLayout struct {
	layout   string
	dateOnly bool
	zoned    bool
}

var absoluteLayouts = []absoluteLayout{
	{layout: time.RFC3339, zoned: true},
	{layout: "2006-01-02T15:04:05"},
	{layout: "2006-01-02T15:04"},
	{layout: "2006-01-02 15:04:05"},
	{layout: "2006-01-02 15:04"},
	{layout: "2006-01-02", dateOnly: true},
}

func (i *Interpreter) parseAbsolute(s string) (time.Time, absoluteLayout, bool) {
	for _, l := range absoluteLayouts {
		var t time.Time
		var err error
		if l.zoned {
			t, err = time.Parse(l.layout, s)
		} else {
			t, err = time.ParseInLocation(l.layout, s, i.loc)
		}
		if err == nil {
			return t, l, true
		}
	}
	return time.Time{}, absoluteLayout{}, false
}

// Interpret resolves text into a Span. The end defaults to start plus
// DefaultDuration unless the phrase carries a duration, an end time or a range.
func (i *Interpreter) Interpret(text string) (Span, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Span{}, &UnresolvedDateError{Phrase: text}
	}

	if t, l, ok := i.parseAbsolute(trimmed); ok {
		if l.dateOnly {
			t = time.Date(t.Year(), t.Month(), t.Day(), defaultHour, 0, 0, 0, i.loc)
		}
		return Span{Start: t, End: t.Add(DefaultDuration)}, nil
	}

	p := &phrase{text: normalize(trimmed)}
	p.extract(i.loc)

	start, ok := p.start(i.Now(), i.loc)
	if !ok {
		return Span{}, &UnresolvedDateError{Phrase: text}
	}
	return Span{Start: start, End: p.end(start)}, nil
}

// InterpretEnd resolves text as the end of an event that begins at start.
// A bare time of day such as "5pm" falls on the start's day and is never
// rolled forward, so an end earlier than the start stays earlier. Phrases
// naming a day are read against the current instant, the same way the start
// was. Offsets like "in 2 hours" count from start.
func (i *Interpreter) InterpretEnd(text string, start time.Time) (time.Time, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return time.Time{}, &UnresolvedDateError{Phrase: text}
	}
	if _, _, ok := i.parseAbsolute(trimmed); ok {
		span, err := i.Interpret(trimmed)
		return span.Start, err
	}

	p := &phrase{text: normalize(trimmed)}
	p.extract(i.loc)

	switch {
	case p.hasOffset:
		return start.Add(p.offset), nil
	case p.date != nil || p.weekday != nil || p.hasShift:
		t, ok := p.start(i.Now(), i.loc)
		if !ok {
			return time.Time{}, &UnresolvedDateError{Phrase: text}
		}
		return t, nil
	case p.clock == nil && p.period == periodNone:
		return time.Time{}, &UnresolvedDateError{Phrase: text}
	}

	day := start.In(i.loc)
	hour, minute := p.period.defaultHour(), 0
	if p.clock != nil {
		hour, minute = p.clock.resolve(p.period)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, i.loc), nil
}

// CorrectIfPast returns s unchanged when it is not in the past. A timestamp
// less than a day old is moved to the same time tomorrow. Anything older is
// taken as model output carrying a stale year and is advanced by whole years
// until it is no longer past, so "2023-12-29T10:00" seen on 2024-01-01
// becomes "2024-12-29T10:00" rather than the nearest future instant. Date-only
// input is advanced by whole years too. The result keeps the input's layout.
func (i *Interpreter) CorrectIfPast(s string) (string, error) {
	trimmed := strings.TrimSpace(s)
	t, l, ok := i.parseAbsolute(trimmed)
	if !ok {
		return s, &UnresolvedDateError{Phrase: s}
	}

	now := i.Now()
	if l.dateOnly {
		today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, i.loc)
		if !t.Before(today) {
			return trimmed, nil
		}
		for t.Before(today) {
			t = t.AddDate(1, 0, 0)
		}
		return t.Format(l.layout), nil
	}

	if !t.Before(now) {
		return trimmed, nil
	}
	if now.Sub(t) < 24*time.Hour {
		t = t.AddDate(0, 0, 1)
	} else {
		for t.Before(now) {
			t = t.AddDate(1, 0, 0)
		}
	}
	return t.Format(l.layout), nil
}

// clock is a time of day as written, before period/meridiem resolution.
type clock struct {
	hour     int
	minute   int
	meridiem string
}

func newClock(hour, minute, meridiem string) (*clock, bool) {
	h, err := strconv.Atoi(hour)
	if err != nil {
		return nil, false
	}
	m := 0
	if minute != "" {
		if m, err = strconv.Atoi(minute); err != nil {
			return nil, false
		}
	}
	if m > 59 || h > 23 || (meridiem != "" && (h < 1 || h > 12)) {
		return nil, false
	}
	return &clock{hour: h, minute: m, meridiem: meridiem}, true
}

func (c clock) resolve(p period) (int, int) {
	h := c.hour
	switch c.meridiem {
	case "pm":
		if h < 12 {
			h += 12
		}
	case "am":
		if h == 12 {
			h = 0
		}
	default:
		if p == periodNight && h == 12 {
			h = 0
		} else if p.pm() && h < 12 {
			h += 12
		}
	}
	return h, c.minute
}

// inferMeridiem fills a missing meridiem in a range from its other end.
func inferMeridiem(from, to *clock) {
	switch {
	case from.meridiem == "" && to.meridiem != "":
		if from.hour <= to.hour && to.hour != 12 {
			from.meridiem = to.meridiem
		} else if to.meridiem == "pm" {
			from.meridiem = "am"
		}
	case to.meridiem == "" && from.meridiem != "" && to.hour <= 12:
		if to.hour >= from.hour && from.hour != 12 {
			to.meridiem = from.meridiem
		} else if from.meridiem == "pm" && to.hour < from.hour {
			to.meridiem = "am"
		} else if from.meridiem == "am" {
			to.meridiem = "pm"
		}
	}
}

const clockPattern = `(\d{1,2})(?::(\d{2}))?\s*(am|pm)?`

var (
	reISODate = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})(?:t(\d{1,2}):(\d{2})(?::\d{2})?)?\b`)

	reThisPeriod = regexp.MustCompile(`\b(?:this|esta)\s+(morning|afternoon|evening|night|manana|tarde|noche)\b`)
	reTonight    = regexp.MustCompile(`\btonight\b`)
	reMarkPeriod = regexp.MustCompile(`\b(?:in\s+the|during\s+the|at|de|por|en)\s+(?:la\s+)?(morning|afternoon|evening|night|manana|tarde|noche|madrugada)\b`)
	reBarePeriod = regexp.MustCompile(`\b(morning|afternoon|evening)\b`)

	reRange     = regexp.MustCompile(`\b(?:from|de|desde|between|entre)\s+(?:las?\s+)?` + clockPattern + `\s+(?:to|until|till|and|a|hasta|y)\s+(?:las?\s+)?` + clockPattern + `\b`)
	reDashRange = regexp.MustCompile(`\b` + clockPattern + `\s*-\s*` + clockPattern + `\b`)

	reDuration         = regexp.MustCompile(`\b(?:for|durante|por)\s+(` + numberPattern + `)\s+(` + unitPattern + `)\b`)
	reHalfHourDuration = regexp.MustCompile(`\b(?:for|durante|por)\s+(?:half\s+an\s+hour|media\s+hora)\b`)
	reUntil            = regexp.MustCompile(`\b(?:until|till|hasta)\s+(?:las?\s+)?(?:(noon|midday|midnight|mediodia|medianoche)|` + clockPattern + `)\b`)

	reOffset         = regexp.MustCompile(`\b(?:in|en|dentro\s+de)\s+(` + numberPattern + `)\s+(` + unitPattern + `)\b`)
	reOffsetFromNow  = regexp.MustCompile(`\b(` + numberPattern + `)\s+(` + unitPattern + `)\s+from\s+now\b`)
	reHalfHourOffset = regexp.MustCompile(`\b(?:in|en|dentro\s+de)\s+(?:half\s+an\s+hour|media\s+hora)\b`)

	reNextWeek = regexp.MustCompile(`\b(?:next\s+week|la\s+semana\s+que\s+viene|la\s+proxima\s+semana|la\s+semana\s+proxima)\b`)
	reDayWord  = regexp.MustCompile(`\b(day\s+after\s+tomorrow|pasado\s+manana|day\s+before\s+yesterday|anteayer|tomorrow|manana|today|hoy|yesterday|ayer)\b`)
	reWeekday  = regexp.MustCompile(`\b(?:(next|this|coming|on|el\s+proximo|proximo|este|el)\s+)?(` + weekdayPattern + `)(?:\s+(que\s+viene|proximo))?\b`)

	reNamedClock    = regexp.MustCompile(`\b(noon|midday|mediodia|midnight|medianoche)\b`)
	reColonClock    = regexp.MustCompile(`\b(\d{1,2}):(\d{2})\s*(am|pm)?\b`)
	reMeridiemClock = regexp.MustCompile(`\b(\d{1,2})\s*(am|pm)\b`)
	reMarkedHour    = regexp.MustCompile(`(?:^|\s)(?:at|a\s+las|a\s+la|@)\s+(\d{1,2})(?:\s+y\s+(media|cuarto))?\b`)
)

var dayWordShift = map[string]int{
	"today": 0, "hoy": 0,
	"tomorrow": 1, "manana": 1,
	"day after tomorrow": 2, "pasado manana": 2,
	"yesterday": -1, "ayer": -1,
	"day before yesterday": -2, "anteayer": -2,
}

type weekdayRef struct {
	day  time.Weekday
	next bool
}

// phrase accumulates the temporal components found in normalized text.
type phrase struct {
	text string

	date     *time.Time
	dayShift int
	hasShift bool
	relDays  int
	weekday  *weekdayRef
	clock    *clock
	period   period

	offset    time.Duration
	hasOffset bool

	duration time.Duration
	endClock *clock
}

// take removes the first match of re from the remaining text and returns its groups.
func (p *phrase) take(re *regexp.Regexp) []string {
	loc := re.FindStringSubmatchIndex(p.text)
	if loc == nil {
		return nil
	}
	groups := make([]string, len(loc)/2)
	for g := range groups {
		if loc[2*g] >= 0 {
			groups[g] = p.text[loc[2*g]:loc[2*g+1]]
		}
	}
	p.text = p.text[:loc[0]] + " " + p.text[loc[1]:]
	return groups
}

func (p *phrase) shiftDays(n int) {
	p.dayShift += n
	p.hasShift = true
}

func (p *phrase) extract(loc *time.Location) {
	if g := p.take(reISODate); g != nil {
		y, _ := strconv.Atoi(g[1])
		mo, _ := strconv.Atoi(g[2])
		d, _ := strconv.Atoi(g[3])
		date := time.Date(y, time.Month(mo), d, 0, 0, 0, 0, loc)
		p.date = &date
		if g[4] != "" {
			p.clock, _ = newClock(g[4], g[5], "")
		}
	}

	p.extractPeriod()
	p.extractEnd()
	p.extractOffset()

	nextWeek := p.take(reNextWeek) != nil
	if g := p.take(reDayWord); g != nil {
		p.shiftDays(dayWordShift[strings.Join(strings.Fields(g[1]), " ")])
	}
	if g := p.take(reWeekday); g != nil {
		ref := &weekdayRef{day: weekdays[g[2]]}
		switch strings.Join(strings.Fields(g[1]), " ") {
		case "next", "coming", "el proximo", "proximo":
			ref.next = true
		}
		// "monday next week" is the coming monday, not one week after it.
		if g[3] != "" || nextWeek {
			ref.next = true
			nextWeek = false
		}
		p.weekday = ref
	}
	if nextWeek {
		p.shiftDays(7)
	}

	if p.clock == nil {
		p.clock = p.extractClock()
	}
}

func (p *phrase) extractPeriod() {
	if g := p.take(reThisPeriod); g != nil {
		p.period = periodWords[g[1]]
		p.shiftDays(0)
		return
	}
	if p.take(reTonight) != nil {
		p.period = periodNight
		p.shiftDays(0)
		return
	}
	if g := p.take(reMarkPeriod); g != nil {
		p.period = periodWords[g[1]]
		return
	}
	if g := p.take(reBarePeriod); g != nil {
		p.period = periodWords[g[1]]
	}
}

func (p *phrase) extractEnd() {
	for _, re := range []*regexp.Regexp{reRange, reDashRange} {
		g := p.take(re)
		if g == nil {
			continue
		}
		from, okFrom := newClock(g[1], g[2], g[3])
		to, okTo := newClock(g[4], g[5], g[6])
		if okFrom && okTo {
			inferMeridiem(from, to)
			p.clock, p.endClock = from, to
		}
		return
	}

	if g := p.take(reDuration); g != nil {
		n, _ := parseNumber(g[1])
		unit, days := unitDuration(g[2])
		if days > 0 {
			unit = time.Duration(days) * 24 * time.Hour
		}
		p.duration = time.Duration(n) * unit
	} else if p.take(reHalfHourDuration) != nil {
		p.duration = 30 * time.Minute
	}

	if g := p.take(reUntil); g != nil {
		if g[1] != "" {
			p.endClock = namedClock(g[1])
		} else if c, ok := newClock(g[2], g[3], g[4]); ok {
			p.endClock = c
		}
	}
}

func (p *phrase) extractOffset() {
	g := p.take(reOffset)
	if g == nil {
		g = p.take(reOffsetFromNow)
	}
	if g != nil {
		n, ok := parseNumber(g[1])
		if !ok {
			return
		}
		unit, days := unitDuration(g[2])
		if days > 0 {
			p.relDays += n * days
			p.shiftDays(n * days)
			return
		}
		p.offset = time.Duration(n) * unit
		p.hasOffset = true
		return
	}
	if p.take(reHalfHourOffset) != nil {
		p.offset = 30 * time.Minute
		p.hasOffset = true
	}
}

func namedClock(word string) *clock {
	switch word {
	case "midnight", "medianoche":
		return &clock{hour: 0}
	}
	return &clock{hour: 12}
}

func (p *phrase) extractClock() *clock {
	if g := p.take(reNamedClock); g != nil {
		return namedClock(g[1])
	}
	if g := p.take(reColonClock); g != nil {
		if c, ok := newClock(g[1], g[2], g[3]); ok {
			return c
		}
	}
	if g := p.take(reMeridiemClock); g != nil {
		if c, ok := newClock(g[1], "", g[2]); ok {
			return c
		}
	}
	if g := p.take(reMarkedHour); g != nil {
		minute := ""
		switch g[2] {
		case "media":
			minute = "30"
		case "cuarto":
			minute = "15"
		}
		if c, ok := newClock(g[1], minute, ""); ok {
			return c
		}
	}
	return nil
}

func (p *phrase) start(now time.Time, loc *time.Location) (time.Time, bool) {
	if p.hasOffset {
		return now.Add(p.offset), true
	}

	anchored := p.date != nil || p.weekday != nil || p.hasShift
	if !anchored && p.clock == nil && p.period == periodNone {
		return time.Time{}, false
	}

	// "in 3 days" keeps the current time of day.
	if p.relDays != 0 && p.clock == nil && p.period == periodNone && p.date == nil && p.weekday == nil {
		return now.AddDate(0, 0, p.dayShift), true
	}

	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	if p.date != nil {
		day = *p.date
	}
	if p.weekday != nil {
		delta := (int(p.weekday.day) - int(day.Weekday()) + 7) % 7
		if p.weekday.next && delta == 0 {
			delta = 7
		}
		day = day.AddDate(0, 0, delta)
	}
	if p.hasShift {
		day = day.AddDate(0, 0, p.dayShift)
	}

	hour, minute := p.period.defaultHour(), 0
	if p.clock != nil {
		hour, minute = p.clock.resolve(p.period)
	}
	start := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, loc)

	if start.Before(now) {
		switch {
		case !anchored:
			start = start.AddDate(0, 0, 1)
		case p.weekday != nil && !p.weekday.next && p.date == nil && !p.hasShift:
			start = start.AddDate(0, 0, 7)
		}
	}
	return start, true
}

func (p *phrase) end(start time.Time) time.Time {
	switch {
	case p.duration > 0:
		return start.Add(p.duration)
	case p.endClock != nil:
		hour, minute := p.endClock.resolve(p.period)
		end := time.Date(start.Year(), start.Month(), start.Day(), hour, minute, 0, 0, start.Location())
		if !end.After(start) {
			end = end.AddDate(0, 0, 1)
		}
		return end
	}
	return start.Add(DefaultDuration)
}
