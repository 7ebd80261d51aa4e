package settlement

import (
	"context"
	"fmt"

	"github.com/escrow-settlement/internal/domain/outbox"
	"github.com/escrow-settlement/internal/domain/shared"
)

// Resume re-drives a settlement intent left pending by an interrupted
// release or withdrawal. Every step it repeats is idempotent.
func (o *Orchestrator) Resume(ctx context.Context, intent *outbox.Message) error {
	switch intent.Kind {
	case outbox.KindEscrowRelease:
		var p releaseIntent
		if err := intent.Decode(&p); err != nil {
			return shared.Infrastructure("corrupt release intent", err)
		}
		return o.completeRelease(ctx, intent, p)
	case outbox.KindWalletWithdraw:
		var p withdrawIntent
		if err := intent.Decode(&p); err != nil {
			return shared.Infrastructure("corrupt withdrawal intent", err)
		}
		return o.resumeWithdrawal(ctx, intent, p)
	default:
		return fmt.Errorf("settlement cannot resume intent kind %q", intent.Kind)
	}
}
