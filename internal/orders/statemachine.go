package orders

import (
	"fmt"

	"github.com/agromart/agromart-backend/pkg/enums"
	pkgerrors "github.com/agromart/agromart-backend/pkg/errors"
)

// transitions lists, per current status, the targets each role may request.
// Payment events never appear here: they change payment status only.
var transitions = map[enums.OrderStatus]map[enums.ActorRole][]enums.OrderStatus{
	enums.OrderStatusPending: {
		enums.ActorRoleFarmer: {enums.OrderStatusConfirmed, enums.OrderStatusCancelled},
		enums.ActorRoleAdmin:  {enums.OrderStatusConfirmed, enums.OrderStatusCancelled},
		enums.ActorRoleBuyer:  {enums.OrderStatusCancelled},
	},
	enums.OrderStatusConfirmed: {
		enums.ActorRoleFarmer: {enums.OrderStatusPreparing, enums.OrderStatusCancelled},
		enums.ActorRoleAdmin:  {enums.OrderStatusPreparing, enums.OrderStatusCancelled},
	},
	enums.OrderStatusPreparing: {
		enums.ActorRoleFarmer: {enums.OrderStatusShipped},
		enums.ActorRoleAdmin:  {enums.OrderStatusShipped, enums.OrderStatusCancelled},
	},
	enums.OrderStatusShipped: {
		enums.ActorRoleBuyer: {enums.OrderStatusDelivered},
	},
	enums.OrderStatusDelivered: {
		enums.ActorRoleSystem: {enums.OrderStatusRefunded},
	},
	enums.OrderStatusCancelled: {
		enums.ActorRoleSystem: {enums.OrderStatusRefunded},
	},
}

// IllegalTransition describes a rejected status change so clients can offer
// the next legal action.
type IllegalTransition struct {
	Current enums.OrderStatus   `json:"current"`
	Target  enums.OrderStatus   `json:"target"`
	Role    enums.ActorRole     `json:"role"`
	Allowed []enums.OrderStatus `json:"allowed"`
	Message string              `json:"message"`
}

// AllowedTargets returns the statuses role may move an order to from current.
func AllowedTargets(current enums.OrderStatus, role enums.ActorRole) []enums.OrderStatus {
	targets := transitions[current][role]
	out := make([]enums.OrderStatus, len(targets))
	copy(out, targets)
	return out
}

// CanTransition reports whether role may move an order from current to target.
func CanTransition(current, target enums.OrderStatus, role enums.ActorRole) bool {
	for _, candidate := range transitions[current][role] {
		if candidate == target {
			return true
		}
	}
	return false
}

// CheckTransition returns a STATE_CONFLICT error carrying IllegalTransition
// details when the move is not in the table.
func CheckTransition(current, target enums.OrderStatus, role enums.ActorRole) error {
	if !target.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown order status %q", target))
	}
	if CanTransition(current, target, role) {
		return nil
	}
	details := IllegalTransition{
		Current: current,
		Target:  target,
		Role:    role,
		Allowed: AllowedTargets(current, role),
		Message: transitionMessage(current, target, role),
	}
	return pkgerrors.New(pkgerrors.CodeStateConflict, details.Message).WithDetails(details)
}

func transitionMessage(current, target enums.OrderStatus, role enums.ActorRole) string {
	if current == target {
		return fmt.Sprintf("order is already %s", current)
	}
	if reachableByAnyRole(current, target) {
		return fmt.Sprintf("a %s cannot move an order from %s to %s", role, current, target)
	}
	if current == enums.OrderStatusRefunded {
		return "refunded orders cannot change status"
	}

	switch target {
	case enums.OrderStatusConfirmed:
		return "only pending orders can be confirmed"
	case enums.OrderStatusPreparing:
		return "order must be confirmed before it can be prepared"
	case enums.OrderStatusShipped:
		return "order must be preparing before it can be shipped"
	case enums.OrderStatusDelivered:
		return "order must be shipped before it can be delivered"
	case enums.OrderStatusCancelled:
		if current.IsTerminal() {
			return fmt.Sprintf("order is already %s and cannot be cancelled", current)
		}
		return fmt.Sprintf("%s orders can no longer be cancelled", current)
	case enums.OrderStatusRefunded:
		return "only delivered or cancelled orders can be refunded"
	case enums.OrderStatusPending:
		return "orders cannot return to pending"
	}
	return fmt.Sprintf("order cannot move from %s to %s", current, target)
}

func reachableByAnyRole(current, target enums.OrderStatus) bool {
	for _, targets := range transitions[current] {
		for _, candidate := range targets {
			if candidate == target {
				return true
			}
		}
	}
	return false
}

// timestampColumn is the lifecycle column stamped when an order enters status.
func timestampColumn(status enums.OrderStatus) string {
	switch status {
	case enums.OrderStatusConfirmed:
		return "confirmed_at"
	case enums.OrderStatusShipped:
		return "shipped_at"
	case enums.OrderStatusDelivered:
		return "delivered_at"
	case enums.OrderStatusCancelled:
		return "cancelled_at"
	case enums.OrderStatusRefunded:
		return "refunded_at"
	}
	return ""
}
