// Package datetime resolves natural-language date and time phrases, in
// English and Spanish, into absolute timestamps.
//
// Phrases are interpreted relative to an injected clock in a configured
// location. A resolved start that falls strictly in the past is moved
// forward when the phrase named no day: a bare clock time rolls to the next
// day, a bare weekday naming today rolls a week. Phrases that name a day
// ("today", "yesterday", "2024-03-01", "tomorrow") are never corrected.
package datetime
