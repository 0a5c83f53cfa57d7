// Package action encodes and decodes the identifiers embedded in buttons, menus and
// modal forms. An identifier is a verb followed by entity references, joined by ':'.
package action

import (
	"slices"
	"strings"
)

const (
	// Delimiter separates the verb and every segment.
	Delimiter = ":"
	// MaxLength is the platform limit for a component custom id.
	MaxLength = 100
)

// Verb selects the command family an identifier maps to.
type Verb string

const (
	VerbBidAuction       Verb = "bidAuction"
	VerbWithdrawAuction  Verb = "withdrawAuction"
	VerbBuyMarket        Verb = "buyMarket"
	VerbEditMarket       Verb = "editMarket"
	VerbDiscountMarket   Verb = "discountMarket"
	VerbWithdrawMarket   Verb = "withdrawMarket"
	VerbOfferTrade       Verb = "offerTrade"
	VerbAcceptTrade      Verb = "acceptTrade"
	VerbWithdrawTrade    Verb = "withdrawTrade"
	VerbEnterGiveaway    Verb = "enterGiveaway"
	VerbWithdrawGiveaway Verb = "withdrawGiveaway"
	VerbConfirmClosure   Verb = "confirmClosure"

	// VerbExtend is a family: the listing kind trails the prefix, e.g. "extendAuction".
	VerbExtend Verb = "extend"
)

// Identifier is an immutable decoded action identifier.
type Identifier struct {
	Verb     Verb
	Segments []string

	family Verb
	suffix string
}

// Family returns the canonical verb: the prefix for family verbs, the verb itself otherwise.
func (id Identifier) Family() Verb {
	if id.family != "" {
		return id.family
	}
	return id.Verb
}

// Discriminator returns the suffix of a family verb ("Auction" for "extendAuction").
func (id Identifier) Discriminator() string {
	return id.suffix
}

// Segment returns the i-th segment or "" when out of range.
func (id Identifier) Segment(i int) string {
	if i < 0 || i >= len(id.Segments) {
		return ""
	}
	return id.Segments[i]
}

// String renders the wire form without validating it.
func (id Identifier) String() string {
	var b strings.Builder
	b.WriteString(string(id.Verb))
	for _, s := range id.Segments {
		b.WriteString(Delimiter)
		b.WriteString(s)
	}
	return b.String()
}

// Equal reports whether both identifiers have the same verb and segments.
func (id Identifier) Equal(other Identifier) bool {
	return id.Verb == other.Verb && slices.Equal(id.Segments, other.Segments)
}

// Encode renders verb and segments with the default registry.
func Encode(verb Verb, segments ...string) (string, error) {
	return Default.Encode(verb, segments...)
}

// Decode parses raw with the default registry.
func Decode(raw string) (Identifier, error) {
	return Default.Decode(raw)
}

// MustEncode is Encode for identifiers built from constants; it panics on error.
func MustEncode(verb Verb, segments ...string) string {
	s, err := Encode(verb, segments...)
	if err != nil {
		panic(err)
	}
	return s
}
