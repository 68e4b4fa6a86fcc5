// Package publication owns the publication state of ads. Every state change
// after creation goes through the Coordinator, which applies the transition
// table below with compare-and-set writes.
package publication

import "github.com/patrickwarner/adgallery/internal/models"

// Trigger is something that asks for a state change.
type Trigger string

const (
	TriggerPaymentCompleted Trigger = "payment_completed"
	TriggerOwnerPublish     Trigger = "owner_publish"
	TriggerOwnerUnpublish   Trigger = "owner_unpublish"
	TriggerModerationHide   Trigger = "moderation_hide"
	TriggerAdminReinstate   Trigger = "admin_reinstate"
)

var (
	pending   = models.AdState{State: models.StatePendingReview}
	live      = models.AdState{State: models.StatePublished}
	hidden    = models.AdState{State: models.StateHidden}
	moderated = models.AdState{State: models.StateHidden, Locked: true}
)

// next returns the state trig moves cur to. changed is false for no-ops,
// which are never errors.
func next(cur models.AdState, trig Trigger) (to models.AdState, changed bool, err error) {
	switch trig {
	case TriggerPaymentCompleted:
		switch cur {
		case pending:
			return live, true, nil
		case moderated:
			return cur, false, models.ErrInvalidTransition
		default:
			return cur, false, nil
		}

	case TriggerOwnerPublish:
		switch cur {
		case pending:
			return cur, false, models.ErrPendingReview
		case moderated:
			return cur, false, models.ErrModerationLocked
		case hidden:
			return live, true, nil
		default:
			return cur, false, nil
		}

	case TriggerOwnerUnpublish:
		switch cur {
		case pending:
			return cur, false, models.ErrPendingReview
		case live:
			return hidden, true, nil
		default:
			return cur, false, nil
		}

	case TriggerModerationHide:
		if cur == moderated {
			return cur, false, nil
		}
		return moderated, true, nil

	case TriggerAdminReinstate:
		switch cur {
		case moderated:
			return live, true, nil
		case live:
			return cur, false, nil
		default:
			return cur, false, models.ErrInvalidTransition
		}
	}
	return cur, false, models.ErrInvalidTransition
}
