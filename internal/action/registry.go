package action

import (
	"slices"
	"sort"
	"strings"
)

// Spec registers a verb that must match exactly.
type Spec struct {
	Verb  Verb
	Arity int
}

// FamilySpec registers a verb prefix whose suffix is a sub-discriminator.
type FamilySpec struct {
	Prefix         Verb
	Arity          int
	Discriminators []string
}

// Registry resolves verbs to their arity. It is immutable once built.
type Registry struct {
	exact    map[Verb]int
	families []FamilySpec
}

// NewRegistry builds a registry. Families are tried longest prefix first.
func NewRegistry(exact []Spec, families []FamilySpec) *Registry {
	r := &Registry{exact: make(map[Verb]int, len(exact))}
	for _, s := range exact {
		r.exact[s.Verb] = s.Arity
	}
	r.families = slices.Clone(families)
	sort.SliceStable(r.families, func(i, j int) bool {
		return len(r.families[i].Prefix) > len(r.families[j].Prefix)
	})
	return r
}

// Default holds every verb the bot emits. It is built before the first event is handled.
var Default = NewRegistry([]Spec{
	{Verb: VerbBidAuction, Arity: 2},
	{Verb: VerbWithdrawAuction, Arity: 2},
	{Verb: VerbBuyMarket, Arity: 2},
	{Verb: VerbEditMarket, Arity: 2},
	{Verb: VerbDiscountMarket, Arity: 2},
	{Verb: VerbWithdrawMarket, Arity: 2},
	{Verb: VerbOfferTrade, Arity: 2},
	{Verb: VerbAcceptTrade, Arity: 3},
	{Verb: VerbWithdrawTrade, Arity: 2},
	{Verb: VerbEnterGiveaway, Arity: 2},
	{Verb: VerbWithdrawGiveaway, Arity: 2},
	{Verb: VerbConfirmClosure, Arity: 2},
}, []FamilySpec{
	{Prefix: VerbExtend, Arity: 2, Discriminators: []string{"Auction", "Market", "Trade", "Giveaway"}},
})

type match struct {
	family Verb
	suffix string
	arity  int
}

func (r *Registry) lookup(verb string) (match, bool) {
	if verb == "" {
		return match{}, false
	}
	if arity, ok := r.exact[Verb(verb)]; ok {
		return match{arity: arity}, true
	}
	for _, f := range r.families {
		prefix := string(f.Prefix)
		if len(verb) <= len(prefix) || !strings.HasPrefix(verb, prefix) {
			continue
		}
		suffix := verb[len(prefix):]
		if slices.Contains(f.Discriminators, suffix) {
			return match{family: f.Prefix, suffix: suffix, arity: f.Arity}, true
		}
	}
	return match{}, false
}

// Known reports whether verb is registered exactly or through a family.
func (r *Registry) Known(verb Verb) bool {
	_, ok := r.lookup(string(verb))
	return ok
}

// New validates verb and segments and returns the identifier.
func (r *Registry) New(verb Verb, segments ...string) (Identifier, error) {
	m, ok := r.lookup(string(verb))
	if !ok {
		return Identifier{}, &EncodingError{Verb: verb, Reason: "unknown verb"}
	}
	if len(segments) != m.arity {
		return Identifier{}, &EncodingError{Verb: verb, Reason: arityReason(m.arity, len(segments))}
	}
	for _, s := range segments {
		if s == "" {
			return Identifier{}, &EncodingError{Verb: verb, Reason: "empty segment"}
		}
		if strings.Contains(s, Delimiter) {
			return Identifier{}, &EncodingError{Verb: verb, Reason: "segment contains delimiter"}
		}
		if !printableASCII(s) {
			return Identifier{}, &EncodingError{Verb: verb, Reason: "segment is not printable ASCII"}
		}
	}
	id := Identifier{Verb: verb, Segments: slices.Clone(segments), family: m.family, suffix: m.suffix}
	if n := len(id.String()); n > MaxLength {
		return Identifier{}, &EncodingError{Verb: verb, Reason: lengthReason(n)}
	}
	return id, nil
}

// Encode returns the wire form of verb and segments.
func (r *Registry) Encode(verb Verb, segments ...string) (string, error) {
	id, err := r.New(verb, segments...)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Decode parses raw. It has no side effects and never panics, so it is safe to call on
// every inbound event whether or not the event belongs to the bot.
func (r *Registry) Decode(raw string) (Identifier, error) {
	if raw == "" {
		return Identifier{}, &MalformedError{Raw: raw, Reason: "empty identifier"}
	}
	if len(raw) > MaxLength {
		return Identifier{}, &MalformedError{Raw: raw, Reason: lengthReason(len(raw))}
	}
	if !printableASCII(raw) {
		return Identifier{}, &MalformedError{Raw: raw, Reason: "not printable ASCII"}
	}
	parts := strings.Split(raw, Delimiter)
	verb, segments := parts[0], parts[1:]
	m, ok := r.lookup(verb)
	if !ok {
		return Identifier{}, &MalformedError{Raw: raw, Reason: "unknown verb"}
	}
	if len(segments) != m.arity {
		return Identifier{}, &MalformedError{Raw: raw, Reason: arityReason(m.arity, len(segments))}
	}
	for _, s := range segments {
		if s == "" {
			return Identifier{}, &MalformedError{Raw: raw, Reason: "empty segment"}
		}
	}
	return Identifier{Verb: Verb(verb), Segments: segments, family: m.family, suffix: m.suffix}, nil
}

func printableASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] > 0x7e {
			return false
		}
	}
	return true
}
