package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/escrowbot/internal/crypto"
	"github.com/alanyoungcy/escrowbot/internal/domain"
)

// Admin notification buttons carry compact payloads:
//
//	deal:<policy>:<dealID>
//	wd:<confirm|reject>:<withdrawalID>
//	dep:<approve|reject>:<accountID>:<amount>:<kind>

func resolveAction(policy domain.Resolution, dealID string) string {
	return "deal:" + string(policy) + ":" + dealID
}

func withdrawalAction(verb, id string) string {
	return "wd:" + verb + ":" + id
}

func depositAction(verb string, att domain.DepositAttestation) string {
	return "dep:" + verb + ":" + strconv.FormatInt(att.AccountID, 10) + ":" + att.Amount.StringFixed(2) + ":" + string(att.Crypto)
}

// ActionRouter executes admin button callbacks routed back from the
// messaging layer.
type ActionRouter struct {
	signer      *crypto.ActionSigner
	deals       *DealService
	withdrawals *WithdrawalService
	deposits    *DepositService
}

// NewActionRouter creates an ActionRouter. signer may be nil, in which case
// payloads are accepted unsigned.
func NewActionRouter(signer *crypto.ActionSigner, deals *DealService, withdrawals *WithdrawalService, deposits *DepositService) *ActionRouter {
	return &ActionRouter{signer: signer, deals: deals, withdrawals: withdrawals, deposits: deposits}
}

// Handle verifies payload and performs the admin action it names. The
// result is the updated deal, withdrawal request or journal entry.
func (r *ActionRouter) Handle(ctx context.Context, adminID int64, payload string) (any, error) {
	data := payload
	if r.signer != nil {
		var err error
		if data, err = r.signer.Verify(payload); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
		}
	}

	parts := strings.Split(data, ":")
	bad := fmt.Errorf("%w: malformed action %q", domain.ErrValidation, data)
	switch parts[0] {
	case "deal":
		if len(parts) != 3 {
			return nil, bad
		}
		policy, err := domain.ParseResolution(parts[1])
		if err != nil {
			return nil, err
		}
		return r.deals.Resolve(ctx, adminID, parts[2], policy)

	case "wd":
		if len(parts) != 3 {
			return nil, bad
		}
		switch parts[1] {
		case "confirm":
			return r.withdrawals.Confirm(ctx, adminID, parts[2])
		case "reject":
			return r.withdrawals.Reject(ctx, adminID, parts[2], "")
		}
		return nil, bad

	case "dep":
		if len(parts) != 5 {
			return nil, bad
		}
		accountID, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			return nil, bad
		}
		amount, err := decimal.NewFromString(parts[3])
		if err != nil {
			return nil, bad
		}
		switch parts[1] {
		case "approve":
			return r.deposits.Approve(ctx, adminID, accountID, amount, parts[4])
		case "reject":
			return nil, r.deposits.Reject(ctx, adminID, accountID, amount, parts[4])
		}
		return nil, bad
	}
	return nil, bad
}
