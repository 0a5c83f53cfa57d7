package interaction

import "marketbot/internal/action"

// FormExpiredMessage answers a dialog submission nobody is waiting for any more.
const FormExpiredMessage = "This form has expired. Please click the button again."

var acknowledgements = map[action.Verb]string{
	action.VerbBidAuction:       "Your bid has been placed.",
	action.VerbWithdrawAuction:  "Your auction has been withdrawn.",
	action.VerbBuyMarket:        "Purchase complete.",
	action.VerbEditMarket:       "Listing updated.",
	action.VerbDiscountMarket:   "Discount applied.",
	action.VerbWithdrawMarket:   "Your listing has been withdrawn.",
	action.VerbOfferTrade:       "Your offer has been sent to the seller.",
	action.VerbAcceptTrade:      "Offer accepted.",
	action.VerbWithdrawTrade:    "Your trade has been withdrawn.",
	action.VerbEnterGiveaway:    "You have entered the giveaway. Good luck!",
	action.VerbWithdrawGiveaway: "Your giveaway has been withdrawn.",
	action.VerbConfirmClosure:   "The listing has been closed.",
	action.VerbExtend:           "The listing has been extended.",
}

// AcknowledgementFor returns the canned success message for id, or "" for none.
func AcknowledgementFor(id action.Identifier) string {
	return acknowledgements[id.Family()]
}
