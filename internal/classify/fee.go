package classify

import (
	"math/big"

	"github.com/vnavascues/substrate-watcher/internal/domain"
)

// computeFee sums, over the extrinsic's own events (the caller passes only
// events for this extrinsic index), the Balances.Deposit and
// Treasury.Deposit amounts credited to an account other than the signer,
// plus the tip -- deposits to non-self accounts. A deposit back to the
// signer (e.g. a refund) is excluded from the fee sum.
//
// If no matching deposit event is present, the fee is marked unknown
// rather than assumed zero.
func computeFee(ex domain.RawExtrinsic, events []domain.RawEvent) (*big.Int, bool) {
	total := big.NewInt(0)
	found := false

	for _, ev := range events {
		if !isDepositEvent(ev) {
			continue
		}
		amount := extractAmount(ev.Fields, "amount")
		if amount == nil {
			continue
		}
		if account := extractPubKey(ev.Fields, "who"); account != nil && ex.Signer != nil && *account == *ex.Signer {
			continue // refund to self, not part of the fee
		}
		total.Add(total, amount)
		found = true
	}

	if !found {
		return nil, true
	}
	if ex.Tip != nil {
		total.Add(total, ex.Tip)
	}
	return total, false
}

func isDepositEvent(ev domain.RawEvent) bool {
	return (ev.Module == "Balances" || ev.Module == "Treasury") && ev.EventID == "Deposit"
}
