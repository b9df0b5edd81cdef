package notify

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/wagerledger/internal/domain"
)

// Format renders an event as a chat title and body.
func Format(ev domain.Event) (string, string) {
	switch p := ev.Payload.(type) {
	case domain.PoolCreated:
		return "Pool created", fmt.Sprintf("%s (%s)\nwindow %s to %s",
			p.PoolName, short(p.Pool.Hex()), p.StartTime.UTC().Format(time.RFC3339), p.EndTime.UTC().Format(time.RFC3339))
	case domain.PoolResolved:
		return "Pool resolved", fmt.Sprintf("%s (%s)\noutcome %d", p.PoolName, short(p.Pool.Hex()), p.FinalOutcome)
	case domain.WeightsFinalized:
		return "Weights finalized", fmt.Sprintf("%s (%s)\ntotal weight %d, fee %d",
			p.PoolName, short(p.Pool.Hex()), p.TotalWeight, p.FeeDeducted)
	case domain.PoolDelegated:
		return "Pool delegated", short(p.PoolAddress.Hex())
	case domain.PoolUndelegated:
		return "Pool undelegated", short(p.PoolAddress.Hex())
	case domain.BetDelegated:
		return "Bet delegated", fmt.Sprintf("%s by %s (request %s)", short(p.BetAddress.Hex()), short(p.User.Hex()), p.RequestID)
	case domain.BetUndelegated:
		if p.IsBatch {
			return "Bet undelegated", short(p.BetAddress.Hex()) + " (batch)"
		}
		return "Bet undelegated", short(p.BetAddress.Hex())
	case domain.ProtocolInitialized:
		return "Protocol initialized", fmt.Sprintf("admin %s, treasury %s", p.Admin.Hex(), p.FeeWallet.Hex())
	case domain.PauseChanged:
		if p.IsPaused {
			return "Protocol paused", "betting is suspended"
		}
		return "Protocol unpaused", "betting is open"
	case domain.AdminTransferred:
		return "Admin transferred", fmt.Sprintf("%s -> %s", p.OldAdmin.Hex(), p.NewAdmin.Hex())
	case domain.ConfigUpdated:
		msg := ""
		if p.Treasury != nil {
			msg += fmt.Sprintf("treasury %s\n", p.Treasury.Hex())
		}
		if p.FeeRateBps != nil {
			msg += fmt.Sprintf("fee %d bps\n", *p.FeeRateBps)
		}
		if p.BatchWaitDuration != nil {
			msg += fmt.Sprintf("batch wait %s\n", *p.BatchWaitDuration)
		}
		return "Config updated", msg
	default:
		return string(ev.Kind), fmt.Sprintf("%v", ev.Payload)
	}
}

// short abbreviates a hex string to 0x1234…abcd.
func short(h string) string {
	if len(h) <= 14 {
		return h
	}
	return h[:6] + "…" + h[len(h)-4:]
}
