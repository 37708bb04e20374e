package enums

// ActorRole identifies who is driving an order operation.
type ActorRole string

const (
	ActorRoleBuyer  ActorRole = "buyer"
	ActorRoleFarmer ActorRole = "farmer"
	ActorRoleAdmin  ActorRole = "admin"
	// ActorRoleSystem is used for gateway callbacks and refunds; never issued in tokens.
	ActorRoleSystem ActorRole = "system"
)

var actorRoles = []ActorRole{ActorRoleBuyer, ActorRoleFarmer, ActorRoleAdmin, ActorRoleSystem}

func (r ActorRole) String() string { return string(r) }

func (r ActorRole) IsValid() bool { return oneOf(actorRoles, r) }

// IsUserRole reports whether the role may be carried by an access token.
func (r ActorRole) IsUserRole() bool {
	return r.IsValid() && r != ActorRoleSystem
}

func ParseActorRole(value string) (ActorRole, error) {
	return parse(actorRoles, "actor role", value, nil)
}
