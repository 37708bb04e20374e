package orders

import (
	"testing"

	"github.com/agromart/agromart-backend/pkg/enums"
	pkgerrors "github.com/agromart/agromart-backend/pkg/errors"
)

func TestTransitionTable(t *testing.T) {
	legal := map[enums.OrderStatus]map[enums.ActorRole][]enums.OrderStatus{
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
	roles := []enums.ActorRole{enums.ActorRoleBuyer, enums.ActorRoleFarmer, enums.ActorRoleAdmin, enums.ActorRoleSystem}

	for _, current := range enums.OrderStatuses() {
		for _, role := range roles {
			for _, target := range enums.OrderStatuses() {
				want := false
				for _, allowed := range legal[current][role] {
					if allowed == target {
						want = true
					}
				}
				if got := CanTransition(current, target, role); got != want {
					t.Errorf("CanTransition(%s, %s, %s) = %v, want %v", current, target, role, got, want)
				}
				err := CheckTransition(current, target, role)
				if want && err != nil {
					t.Errorf("CheckTransition(%s, %s, %s) unexpected error %v", current, target, role, err)
				}
				if !want {
					typed := pkgerrors.As(err)
					if typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
						t.Errorf("CheckTransition(%s, %s, %s) expected state conflict, got %v", current, target, role, err)
					}
				}
			}
		}
	}
}

func TestTerminalStatusesOnlyAllowRefund(t *testing.T) {
	for _, status := range []enums.OrderStatus{enums.OrderStatusDelivered, enums.OrderStatusCancelled, enums.OrderStatusRefunded} {
		for _, role := range []enums.ActorRole{enums.ActorRoleBuyer, enums.ActorRoleFarmer, enums.ActorRoleAdmin} {
			if targets := AllowedTargets(status, role); len(targets) != 0 {
				t.Fatalf("expected no %s transitions from %s, got %v", role, status, targets)
			}
		}
	}
	if targets := AllowedTargets(enums.OrderStatusRefunded, enums.ActorRoleSystem); len(targets) != 0 {
		t.Fatalf("refunded must be final, got %v", targets)
	}
}

func TestCheckTransitionDetails(t *testing.T) {
	err := CheckTransition(enums.OrderStatusPreparing, enums.OrderStatusDelivered, enums.ActorRoleBuyer)
	typed := pkgerrors.As(err)
	if typed == nil {
		t.Fatalf("expected typed error, got %v", err)
	}
	details, ok := typed.Details().(IllegalTransition)
	if !ok {
		t.Fatalf("expected IllegalTransition details, got %T", typed.Details())
	}
	if details.Current != enums.OrderStatusPreparing || details.Target != enums.OrderStatusDelivered || details.Role != enums.ActorRoleBuyer {
		t.Fatalf("unexpected details %+v", details)
	}
	if len(details.Allowed) != 0 {
		t.Fatalf("buyer has no moves from preparing, got %v", details.Allowed)
	}
	if typed.Message() != "order must be shipped before it can be delivered" {
		t.Fatalf("unexpected message %q", typed.Message())
	}
}

func TestTransitionMessages(t *testing.T) {
	cases := []struct {
		current enums.OrderStatus
		target  enums.OrderStatus
		role    enums.ActorRole
		want    string
	}{
		{enums.OrderStatusShipped, enums.OrderStatusDelivered, enums.ActorRoleFarmer, "a farmer cannot move an order from shipped to delivered"},
		{enums.OrderStatusConfirmed, enums.OrderStatusShipped, enums.ActorRoleFarmer, "order must be preparing before it can be shipped"},
		{enums.OrderStatusDelivered, enums.OrderStatusCancelled, enums.ActorRoleBuyer, "order is already delivered and cannot be cancelled"},
		{enums.OrderStatusShipped, enums.OrderStatusCancelled, enums.ActorRoleAdmin, "shipped orders can no longer be cancelled"},
		{enums.OrderStatusPending, enums.OrderStatusPending, enums.ActorRoleFarmer, "order is already pending"},
		{enums.OrderStatusPending, enums.OrderStatusRefunded, enums.ActorRoleSystem, "only delivered or cancelled orders can be refunded"},
		{enums.OrderStatusRefunded, enums.OrderStatusCancelled, enums.ActorRoleAdmin, "refunded orders cannot change status"},
	}
	for _, tc := range cases {
		if got := transitionMessage(tc.current, tc.target, tc.role); got != tc.want {
			t.Errorf("transitionMessage(%s, %s, %s) = %q, want %q", tc.current, tc.target, tc.role, got, tc.want)
		}
	}
}

func TestCheckTransitionRejectsUnknownTarget(t *testing.T) {
	err := CheckTransition(enums.OrderStatusPending, enums.OrderStatus("teleported"), enums.ActorRoleAdmin)
	if !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
