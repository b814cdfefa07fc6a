package datetime

import (
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var numberWords = map[string]int{
	"a": 1, "an": 1, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6,
	"seven": 7, "eight": 8, "nine": 9, "ten": 10, "eleven": 11, "twelve": 12,
	"fifteen": 15, "twenty": 20, "thirty": 30, "forty": 40, "forty-five": 45,

	"un": 1, "una": 1, "uno": 1, "dos": 2, "tres": 3, "cuatro": 4, "cinco": 5,
	"seis": 6, "siete": 7, "ocho": 8, "nueve": 9, "diez": 10, "once": 11, "doce": 12,
	"quince": 15, "veinte": 20, "treinta": 30, "cuarenta": 40,
}

// numberPattern matches digits or any key of numberWords.
const numberPattern = `\d+|forty-five|fifteen|twenty|thirty|forty|eleven|twelve|three|seven|eight|four|five|nine|one|two|six|ten|an|a|cuarenta|cuatro|treinta|veinte|quince|cinco|nueve|siete|ocho|seis|diez|once|doce|tres|dos|una|uno|un`

func parseNumber(s string) (int, bool) {
	if n, ok := numberWords[s]; ok {
		return n, true
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

// unitPattern matches minute, hour, day and week units.
const unitPattern = `minutes|minute|mins|min|minutos|minuto|hours|hour|hrs|hr|horas|hora|days|day|dias|dia|weeks|week|semanas|semana`

func unitDuration(unit string) (d time.Duration, days int) {
	switch {
	case strings.HasPrefix(unit, "min"):
		return time.Minute, 0
	case strings.HasPrefix(unit, "h"):
		return time.Hour, 0
	case strings.HasPrefix(unit, "d"):
		return 0, 1
	default:
		return 0, 7
	}
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday, "friday": time.Friday,
	"saturday": time.Saturday,

	"domingo": time.Sunday, "lunes": time.Monday, "martes": time.Tuesday,
	"miercoles": time.Wednesday, "jueves": time.Thursday, "viernes": time.Friday,
	"sabado": time.Saturday,
}

const weekdayPattern = `sunday|monday|tuesday|wednesday|thursday|friday|saturday|domingo|lunes|martes|miercoles|jueves|viernes|sabado`

// period is a part of the day. It implies a meridiem for clock times and a
// default hour when no clock time is given.
type period int

const (
	periodNone period = iota
	periodMorning
	periodAfternoon
	periodEvening
	periodNight
	periodEarly
)

var periodWords = map[string]period{
	"morning": periodMorning, "manana": periodMorning,
	"afternoon": periodAfternoon, "tarde": periodAfternoon,
	"evening": periodEvening,
	"night": periodNight, "noche": periodNight,
	"madrugada": periodEarly,
}

func (p period) defaultHour() int {
	switch p {
	case periodMorning:
		return 9
	case periodAfternoon:
		return 15
	case periodEvening:
		return 19
	case periodNight:
		return 20
	case periodEarly:
		return 6
	}
	return defaultHour
}

func (p period) pm() bool {
	return p == periodAfternoon || p == periodEvening || p == periodNight
}

// normalize lowercases, folds accents ("mañana" -> "manana") and strips
// punctuation that carries no temporal meaning.
func normalize(text string) string {
	s := strings.ToLower(text)
	// transform chains are stateful, so build one per call.
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if folded, _, err := transform.String(fold, s); err == nil {
		s = folded
	}

	s = strings.NewReplacer("a.m.", "am", "p.m.", "pm", "o'clock", "").Replace(s)
	s = strings.Map(func(r rune) rune {
		switch r {
		case ',', '.', '!', '?', ';', '¿', '¡', '"', '(', ')':
			return ' '
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}
