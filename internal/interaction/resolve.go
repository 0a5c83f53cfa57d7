package interaction

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"marketbot/internal/action"
	"marketbot/internal/command"
	"marketbot/internal/domain"
)

// ResolveErrorKind classifies resolution failures.
type ResolveErrorKind string

const (
	UnknownVerb       ResolveErrorKind = "unknown_verb"
	MissingField      ResolveErrorKind = "missing_field"
	InvalidFieldValue ResolveErrorKind = "invalid_field_value"
)

// ResolveError is a resolution failure with a short user-facing message.
type ResolveError struct {
	Kind    ResolveErrorKind
	Verb    action.Verb
	Field   string
	Message string
}

func (e *ResolveError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("resolve %s: %s %s: %s", e.Verb, e.Kind, e.Field, e.Message)
	}
	return fmt.Sprintf("resolve %s: %s: %s", e.Verb, e.Kind, e.Message)
}

type clickFunc func(h command.Header, id action.Identifier) command.Command

type replyFunc func(h command.Header, id action.Identifier, v values) (command.Command, error)

// clickTable maps verbs that execute straight from a click.
var clickTable = map[action.Verb]clickFunc{
	action.VerbWithdrawAuction:  withdraw(domain.KindAuction),
	action.VerbWithdrawMarket:   withdraw(domain.KindMarket),
	action.VerbWithdrawTrade:    withdraw(domain.KindTrade),
	action.VerbWithdrawGiveaway: withdraw(domain.KindGiveaway),
	action.VerbEnterGiveaway: func(h command.Header, _ action.Identifier) command.Command {
		return command.EnterGiveaway{Header: h}
	},
	action.VerbAcceptTrade: func(h command.Header, id action.Identifier) command.Command {
		return command.AcceptTrade{Header: h, OfferID: id.Segment(2)}
	},
	action.VerbConfirmClosure: func(h command.Header, _ action.Identifier) command.Command {
		return command.ConfirmClosure{Header: h}
	},
}

// replyTable maps verbs that need dialog values. It shares no verb with clickTable.
var replyTable = map[action.Verb]replyFunc{
	action.VerbBidAuction: func(h command.Header, _ action.Identifier, v values) (command.Command, error) {
		amount, err := v.money(FieldAmount)
		if err != nil {
			return nil, err
		}
		return command.PlaceBid{Header: h, AmountCents: *amount}, nil
	},
	action.VerbEditMarket: func(h command.Header, _ action.Identifier, v values) (command.Command, error) {
		price, err := v.money(FieldPrice)
		if err != nil {
			return nil, err
		}
		qty, err := v.positiveInt(FieldQuantity)
		if err != nil {
			return nil, err
		}
		return command.UpdateMarket{
			Header:      h,
			ItemName:    v.text(FieldName),
			Description: v.text(FieldDescription),
			PriceCents:  price,
			Quantity:    qty,
			ImageURL:    v.text(FieldImage),
		}, nil
	},
	action.VerbDiscountMarket: func(h command.Header, _ action.Identifier, v values) (command.Command, error) {
		pct, err := v.positiveInt(FieldPercent)
		if err != nil {
			return nil, err
		}
		d, err := v.hours(FieldHours)
		if err != nil {
			return nil, err
		}
		return command.ApplyDiscount{Header: h, Percent: *pct, Duration: *d}, nil
	},
	action.VerbBuyMarket: func(h command.Header, _ action.Identifier, v values) (command.Command, error) {
		qty, err := v.positiveInt(FieldQuantity)
		if err != nil {
			return nil, err
		}
		return command.BuyListing{Header: h, Quantity: qty}, nil
	},
	action.VerbOfferTrade: func(h command.Header, _ action.Identifier, v values) (command.Command, error) {
		return command.OfferTrade{Header: h, Offer: *v.text(FieldOffer)}, nil
	},
	action.VerbExtend: func(h command.Header, id action.Identifier, v values) (command.Command, error) {
		d, err := v.hours(FieldHours)
		if err != nil {
			return nil, err
		}
		return command.ExtendListing{Header: h, Kind: kindOf(id), Duration: *d}, nil
	},
}

// authorizeTable holds the authorize-only shadows of reply verbs, dispatched before the
// dialog is shown.
var authorizeTable = map[action.Verb]clickFunc{
	action.VerbBidAuction: func(h command.Header, _ action.Identifier) command.Command {
		return command.PlaceBid{Header: h}
	},
	action.VerbEditMarket: func(h command.Header, _ action.Identifier) command.Command {
		return command.UpdateMarket{Header: h}
	},
	action.VerbDiscountMarket: func(h command.Header, _ action.Identifier) command.Command {
		return command.ApplyDiscount{Header: h}
	},
	action.VerbBuyMarket: func(h command.Header, _ action.Identifier) command.Command {
		return command.BuyListing{Header: h}
	},
	action.VerbOfferTrade: func(h command.Header, _ action.Identifier) command.Command {
		return command.OfferTrade{Header: h}
	},
	action.VerbExtend: func(h command.Header, id action.Identifier) command.Command {
		return command.ExtendListing{Header: h, Kind: kindOf(id)}
	},
}

func withdraw(kind domain.ListingKind) clickFunc {
	return func(h command.Header, _ action.Identifier) command.Command {
		return command.WithdrawListing{Header: h, Kind: kind}
	}
}

func kindOf(id action.Identifier) domain.ListingKind {
	return domain.ListingKind(strings.ToLower(id.Discriminator()))
}

// Resolver maps decoded identifiers to commands. It holds no state.
type Resolver struct{}

func header(scope Scope, id action.Identifier) command.Header {
	return command.Header{
		Ref: domain.ListingReference{
			TenantID: scope.TenantID,
			RoomID:   id.Segment(0),
			ItemRef:  id.Segment(1),
		},
		Actor: scope.Actor,
	}
}

// Resolve returns the one command for id. replyValues are the dialog values, nil for
// plain clicks.
func (Resolver) Resolve(scope Scope, id action.Identifier, replyValues map[string]string) (command.Command, error) {
	verb := id.Family()
	h := header(scope, id)
	if f, ok := clickTable[verb]; ok {
		return f(h, id), nil
	}
	f, ok := replyTable[verb]
	if !ok {
		return nil, &ResolveError{Kind: UnknownVerb, Verb: id.Verb, Message: "That action is no longer available."}
	}
	v := values{verb: id.Verb, raw: replyValues}
	if schema, ok := dialogSchemas[verb]; ok {
		for _, field := range schema.Fields {
			if field.Required && v.text(field.Name) == nil {
				return nil, &ResolveError{Kind: MissingField, Verb: id.Verb, Field: field.Name,
					Message: fmt.Sprintf("Please fill in %q.", field.Label)}
			}
		}
	}
	return f(h, id, v)
}

// ResolveAuthorization returns the authorize-only command for id, if the verb has one.
func (Resolver) ResolveAuthorization(scope Scope, id action.Identifier) (command.Command, bool) {
	f, ok := authorizeTable[id.Family()]
	if !ok {
		return nil, false
	}
	h := header(scope, id)
	h.AuthorizeOnly = true
	return f(h, id), true
}

// values wraps dialog values with the coercions the reply table needs. Blank values are
// treated as absent and yield nil.
type values struct {
	verb action.Verb
	raw  map[string]string
}

func (v values) text(name string) *string {
	s, ok := v.raw[name]
	if !ok {
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func (v values) invalid(name, msg string) error {
	return &ResolveError{Kind: InvalidFieldValue, Verb: v.verb, Field: name, Message: msg}
}

func (v values) money(name string) (*int64, error) {
	s := v.text(name)
	if s == nil {
		return nil, nil
	}
	cents, err := domain.ParseCents(*s)
	if err != nil {
		return nil, v.invalid(name, fmt.Sprintf("%q is not an amount like 19.99.", *s))
	}
	return &cents, nil
}

func (v values) positiveInt(name string) (*int, error) {
	s := v.text(name)
	if s == nil {
		return nil, nil
	}
	n, err := strconv.Atoi(*s)
	if err != nil || n <= 0 {
		return nil, v.invalid(name, fmt.Sprintf("%q is not a positive whole number.", *s))
	}
	return &n, nil
}

func (v values) hours(name string) (*time.Duration, error) {
	n, err := v.positiveInt(name)
	if err != nil || n == nil {
		return nil, err
	}
	d := time.Duration(*n) * time.Hour
	return &d, nil
}
