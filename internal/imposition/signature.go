package imposition

import (
	"fmt"
	"strconv"
	"strings"
)

// PagesPerSheet is the number of logical pages on one folded sheet, two on
// each side.
const PagesPerSheet = 4

// Entry is one slot of the imposition order: a zero-based page index or
// Blank.
type Entry int

// Blank marks a slot that stays empty on the printed sheet.
const Blank Entry = -1

func (e Entry) IsBlank() bool { return e < 0 }

// String renders e 1-based, or as "{}" for a blank, which is how the
// typesetter's page selection spells an empty page.
func (e Entry) String() string {
	if e.IsBlank() {
		return "{}"
	}
	return strconv.Itoa(int(e) + 1)
}

// Sequence returns the sheet order for printing totalPages pages as
// signatures of at most maxSheets sheets each. Blank padding is local to each
// signature and precedes the last page of the signature.
func Sequence(totalPages, maxSheets int) ([]Entry, error) {
	if totalPages < 0 {
		return nil, fmt.Errorf("page count must not be negative, got %d", totalPages)
	}
	if maxSheets < 1 {
		return nil, fmt.Errorf("sheets per signature must be at least 1, got %d", maxSheets)
	}

	perSignature := maxSheets * PagesPerSheet
	out := make([]Entry, 0, SheetCount(totalPages)*PagesPerSheet+PagesPerSheet)
	for start := 0; start < totalPages; start += perSignature {
		out = appendSignature(out, start, min(perSignature, totalPages-start))
	}
	return out, nil
}

// SingleSignature returns the order for one signature holding all pages.
func SingleSignature(totalPages int) []Entry {
	return appendSignature(nil, 0, totalPages)
}

// SheetCount is the number of sheets needed for n pages.
func SheetCount(n int) int {
	return (n + PagesPerSheet - 1) / PagesPerSheet
}

func appendSignature(out []Entry, start, n int) []Entry {
	blanks := (PagesPerSheet - n%PagesPerSheet) % PagesPerSheet
	back := &backwardPages{blanks: blanks, next: start + n - 1, first: start}
	fwd := &forwardPages{next: start, end: start + n}

	for range SheetCount(n) {
		out = append(out, back.pop(), fwd.pop(), fwd.pop(), back.pop())
	}
	return out
}

// backwardPages yields its leading blanks, then pages from next down to
// first, then blanks.
type backwardPages struct {
	blanks int
	next   int
	first  int
}

func (b *backwardPages) pop() Entry {
	if b.blanks > 0 {
		b.blanks--
		return Blank
	}
	if b.next < b.first {
		return Blank
	}
	e := Entry(b.next)
	b.next--
	return e
}

// forwardPages yields pages from next up to end-1, then blanks.
type forwardPages struct {
	next int
	end  int
}

func (f *forwardPages) pop() Entry {
	if f.next >= f.end {
		return Blank
	}
	e := Entry(f.next)
	f.next++
	return e
}

// MaskPages blanks every entry that refers to a page at or beyond realPages.
// Extra blank pages appended to a document are imposed this way.
func MaskPages(entries []Entry, realPages int) []Entry {
	out := make([]Entry, len(entries))
	for i, e := range entries {
		if int(e) >= realPages {
			e = Blank
		}
		out[i] = e
	}
	return out
}

// Format renders entries as a comma separated page selection.
func Format(entries []Entry) string {
	parts := make([]string, len(entries))
	for i, e := range entries {
		parts[i] = e.String()
	}
	return strings.Join(parts, ",")
}
