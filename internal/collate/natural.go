package collate

import (
	"fmt"
	"strings"
	"sync"

	xcollate "golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Options configures a NaturalCollator
type Options struct {
	// Locale is a BCP-47 tag such as "en" or "de-CH". Empty means root collation.
	Locale string
	// Numeric compares runs of digits by their numeric value ("Track 2" < "Track 10")
	Numeric bool
}

// NaturalCollator is a locale-aware string comparator that treats embedded
// digit runs as numbers. It is safe for concurrent use.
type NaturalCollator struct {
	tag language.Tag

	// collate.Collator keeps internal buffers and is not safe for concurrent use
	mu sync.Mutex
	c  *xcollate.Collator
}

// New builds a collator for the given options
func New(opts Options) (*NaturalCollator, error) {
	tag := language.Und
	if opts.Locale != "" {
		parsed, err := language.Parse(opts.Locale)
		if err != nil {
			return nil, fmt.Errorf("invalid collation locale %q: %w", opts.Locale, err)
		}
		tag = parsed
	}

	var collOpts []xcollate.Option
	if opts.Numeric {
		collOpts = append(collOpts, xcollate.Numeric)
	}

	return &NaturalCollator{
		tag: tag,
		c:   xcollate.New(tag, collOpts...),
	}, nil
}

// MustNew is like New but panics on an invalid locale. Intended for tests and
// package-level defaults with constant options.
func MustNew(opts Options) *NaturalCollator {
	c, err := New(opts)
	if err != nil {
		panic(err)
	}
	return c
}

// Locale returns the language tag the collator was built for
func (n *NaturalCollator) Locale() language.Tag {
	return n.tag
}

// Compare returns -1, 0 or 1. Strings the locale considers equal ("Track 01"
// and "Track 1" under numeric collation) are ordered by their bytes, so only
// identical strings compare equal.
func (n *NaturalCollator) Compare(a, b string) int {
	if a == b {
		return 0
	}

	n.mu.Lock()
	r := n.c.CompareString(a, b)
	n.mu.Unlock()

	if r != 0 {
		return r
	}
	return strings.Compare(a, b)
}
