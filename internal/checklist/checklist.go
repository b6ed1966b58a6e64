// Package checklist parses and rewrites the acceptance-criteria block inside
// a ticket description.
//
// A checklist is a contiguous run of markdown checkbox lines:
//
//	- [ ] unchecked criterion
//	- [x] checked criterion
//	- ~~[ ] deferred criterion~~ *moved to PROJ-123*
//
// Parsing is tolerant: text outside the run is never touched, and a malformed
// line inside the run is preserved verbatim as an opaque item rather than
// aborting the parse. Rendering is the only path allowed to mutate description
// text, and it only regenerates lines whose flags actually changed; an
// unmodified block round-trips byte-identically.
package checklist

import (
	"fmt"
	"regexp"
	"strings"
)

// Criterion is one acceptance-criteria line. Text is immutable once parsed;
// only the Checked/Deferred flags change. If Deferred is true, Checked is
// false and DeferralNote carries the justification; DeferredTo holds the
// ticket token extracted from the note, when one is present.
type Criterion struct {
	Text         string
	Checked      bool
	Deferred     bool
	DeferralNote string
	DeferredTo   string
}

// item is one line of the checklist run: either a parsed criterion or an
// opaque (malformed) line kept verbatim.
type item struct {
	raw string // original line, without terminator
	eol string // original line terminator ("" on final unterminated line)

	crit *Criterion // nil for opaque items

	// flags as parsed, used to decide whether raw can be re-emitted
	origChecked  bool
	origDeferred bool
}

// Block is the parsed checklist plus the untouched text around it.
type Block struct {
	lead  string
	trail string
	items []item

	// criteria indexes parsed items: criteria[i] is the item index of the
	// i-th Criterion. Opaque items are excluded from diffing.
	criteria []int
}

var (
	uncheckedLine = regexp.MustCompile(`^- \[ \] (.*)$`)
	checkedLine   = regexp.MustCompile(`^- \[[xX]\] (.*)$`)
	deferredLine  = regexp.MustCompile(`^- ~~\[ \] (.*?)~~\s*\*(.*)\*\s*$`)

	ticketKeyToken = regexp.MustCompile(`[A-Z][A-Z0-9]+-\d+`)
	issueNumToken  = regexp.MustCompile(`#\d+`)
)

// Parse locates the first checklist run in description and returns the
// structured block. A description with no checklist yields a valid empty
// block; the error return exists for interface symmetry and is always nil
// today.
func Parse(description string) (*Block, error) {
	b := &Block{}

	lines := splitKeepEOL(description)

	// Find the first line that parses as a criterion.
	start := -1
	for i, ln := range lines {
		if _, ok := parseCriterion(ln.text); ok {
			start = i
			break
		}
	}
	if start == -1 {
		b.lead = description
		return b, nil
	}

	// The run extends while lines parse, or look like attempted criteria
	// (leading "- "), which become opaque items.
	end := start
	for end < len(lines) {
		text := lines[end].text
		if _, ok := parseCriterion(text); ok {
			end++
			continue
		}
		if strings.HasPrefix(text, "- ") && looksLikeAttempt(text) {
			end++
			continue
		}
		break
	}

	var lead strings.Builder
	for _, ln := range lines[:start] {
		lead.WriteString(ln.text)
		lead.WriteString(ln.eol)
	}
	b.lead = lead.String()

	for _, ln := range lines[start:end] {
		it := item{raw: ln.text, eol: ln.eol}
		if crit, ok := parseCriterion(ln.text); ok {
			it.crit = crit
			it.origChecked = crit.Checked
			it.origDeferred = crit.Deferred
			b.criteria = append(b.criteria, len(b.items))
		}
		b.items = append(b.items, it)
	}

	var trail strings.Builder
	for _, ln := range lines[end:] {
		trail.WriteString(ln.text)
		trail.WriteString(ln.eol)
	}
	b.trail = trail.String()

	return b, nil
}

// Render writes the block back out. Text outside the run and opaque items are
// reproduced byte-for-byte; criterion lines are regenerated only when their
// flags differ from what was parsed.
func (b *Block) Render() string {
	var out strings.Builder
	out.WriteString(b.lead)
	for _, it := range b.items {
		if it.crit == nil || (it.crit.Checked == it.origChecked && it.crit.Deferred == it.origDeferred) {
			out.WriteString(it.raw)
		} else {
			out.WriteString(formatCriterion(it.crit))
		}
		out.WriteString(it.eol)
	}
	out.WriteString(b.trail)
	return out.String()
}

// Len returns the number of parsed criteria (opaque items excluded).
func (b *Block) Len() int {
	return len(b.criteria)
}

// Empty reports whether the block holds no parsed criteria. A ticket may
// legitimately have zero acceptance criteria yet.
func (b *Block) Empty() bool {
	return len(b.criteria) == 0
}

// Criteria returns a copy of the parsed criteria in order.
func (b *Block) Criteria() []Criterion {
	out := make([]Criterion, len(b.criteria))
	for i, idx := range b.criteria {
		out[i] = *b.items[idx].crit
	}
	return out
}

// Criterion returns the i-th parsed criterion.
func (b *Block) Criterion(i int) (Criterion, error) {
	if i < 0 || i >= len(b.criteria) {
		return Criterion{}, fmt.Errorf("criterion index %d out of range (have %d)", i, len(b.criteria))
	}
	return *b.items[b.criteria[i]].crit, nil
}

// SetChecked flips the checked flag on the i-th criterion. Checking a
// deferred criterion is rejected: deferred implies unchecked.
func (b *Block) SetChecked(i int, checked bool) error {
	if i < 0 || i >= len(b.criteria) {
		return fmt.Errorf("criterion index %d out of range (have %d)", i, len(b.criteria))
	}
	crit := b.items[b.criteria[i]].crit
	if checked && crit.Deferred {
		return fmt.Errorf("criterion %d is deferred and cannot be checked", i)
	}
	crit.Checked = checked
	return nil
}

// Defer marks the i-th criterion as deferred with the given justification.
// A checked criterion cannot be deferred; uncheck it first.
func (b *Block) Defer(i int, note string) error {
	if i < 0 || i >= len(b.criteria) {
		return fmt.Errorf("criterion index %d out of range (have %d)", i, len(b.criteria))
	}
	crit := b.items[b.criteria[i]].crit
	if crit.Checked {
		return fmt.Errorf("criterion %d is checked and cannot be deferred", i)
	}
	crit.Deferred = true
	crit.DeferralNote = note
	crit.DeferredTo = TicketToken(note)
	return nil
}

// Unsatisfied returns the indices of criteria that are neither checked nor
// deferred. These are what block an OpenPR.
func (b *Block) Unsatisfied() []int {
	var out []int
	for i, idx := range b.criteria {
		c := b.items[idx].crit
		if !c.Checked && !c.Deferred {
			out = append(out, i)
		}
	}
	return out
}

// DeferredIndices returns the indices of deferred criteria.
func (b *Block) DeferredIndices() []int {
	var out []int
	for i, idx := range b.criteria {
		if b.items[idx].crit.Deferred {
			out = append(out, i)
		}
	}
	return out
}

// TicketToken extracts a ticket reference token from a deferral note:
// a tracker key like PROJ-123, or an issue number like #42. Returns ""
// when the note carries no recognizable reference.
func TicketToken(note string) string {
	if m := ticketKeyToken.FindString(note); m != "" {
		return m
	}
	if m := issueNumToken.FindString(note); m != "" {
		return m
	}
	return ""
}

// parseCriterion matches one of the three well-formed line shapes.
func parseCriterion(line string) (*Criterion, bool) {
	if m := deferredLine.FindStringSubmatch(line); m != nil {
		note := m[2]
		return &Criterion{
			Text:         m[1],
			Deferred:     true,
			DeferralNote: note,
			DeferredTo:   TicketToken(note),
		}, true
	}
	if m := checkedLine.FindStringSubmatch(line); m != nil {
		return &Criterion{Text: m[1], Checked: true}, true
	}
	if m := uncheckedLine.FindStringSubmatch(line); m != nil {
		return &Criterion{Text: m[1]}, true
	}
	return nil, false
}

// looksLikeAttempt reports whether a non-parsing line is a botched criterion
// (e.g. a deferral missing its closing ~~) rather than ordinary list prose.
// Such lines stay in the run as opaque items.
func looksLikeAttempt(line string) bool {
	rest := strings.TrimPrefix(line, "- ")
	return strings.HasPrefix(rest, "[") || strings.HasPrefix(rest, "~~[")
}

// formatCriterion renders a criterion in canonical form. Text passes through
// untouched; only the markers around it are generated.
func formatCriterion(c *Criterion) string {
	if c.Deferred {
		return fmt.Sprintf("- ~~[ ] %s~~ *%s*", c.Text, c.DeferralNote)
	}
	if c.Checked {
		return "- [x] " + c.Text
	}
	return "- [ ] " + c.Text
}

type line struct {
	text string
	eol  string
}

// splitKeepEOL splits s into lines, preserving each line's own terminator so
// the original bytes can be reassembled exactly.
func splitKeepEOL(s string) []line {
	var out []line
	for len(s) > 0 {
		i := strings.IndexByte(s, '\n')
		if i == -1 {
			out = append(out, line{text: s})
			break
		}
		text, eol := s[:i], "\n"
		if strings.HasSuffix(text, "\r") {
			text, eol = text[:len(text)-1], "\r\n"
		}
		out = append(out, line{text: text, eol: eol})
		s = s[i+1:]
	}
	return out
}
