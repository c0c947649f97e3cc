package epubview

import (
	"context"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/neurosnap/sentences"
)

type location struct {
	page   int
	offset int
}

func compareLocations(a, b location) int {
	if a.page != b.page {
		return a.page - b.page
	}
	return a.offset - b.offset
}

// Locations is ordered set of positions spread through the reading order.
type Locations struct {
	list []location
}

// Len returns number of known locations.
func (l *Locations) Len() int {
	return len(l.list)
}

// Fraction returns share of document preceding cursor, measured in locations.
func (l *Locations) Fraction(cursor string) (float64, bool) {
	page, offset, err := ParseCursor(cursor)
	if err != nil || len(l.list) == 0 {
		return 0, false
	}
	i, found := slices.BinarySearchFunc(l.list, location{page: page, offset: offset}, compareLocations)
	if !found {
		i--
	}
	if i <= 0 || len(l.list) == 1 {
		return 0, true
	}
	return float64(i) / float64(len(l.list)-1), true
}

// sentenceStarts returns rune offsets of sentence beginnings in text.
func sentenceStarts(tok *sentences.DefaultSentenceTokenizer, text string) []int {
	var (
		starts []int
		pos    int
	)
	for _, s := range tok.Tokenize(text) {
		frag := strings.TrimSpace(s.Text)
		if len(frag) == 0 {
			continue
		}
		idx := strings.Index(text[pos:], frag)
		if idx < 0 {
			continue
		}
		starts = append(starts, utf8.RuneCountInString(text[:pos+idx]))
		pos += idx + len(frag)
	}
	return starts
}

// buildLocations places location at the start of every linear page and at
// sentence boundaries at least chars apart within page.
func buildLocations(ctx context.Context, tok *sentences.DefaultSentenceTokenizer, b *book, chars int) (*Locations, error) {
	if chars <= 0 {
		chars = 1
	}
	l := &Locations{}
	for i, p := range b.pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !p.Linear {
			continue
		}
		l.list = append(l.list, location{page: i})
		last := 0
		for _, start := range sentenceStarts(tok, b.texts[i]) {
			if start-last >= chars {
				l.list = append(l.list, location{page: i, offset: start})
				last = start
			}
		}
	}
	return l, nil
}
