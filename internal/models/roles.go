package models

import "slices"

const (
	RoleCustomer             = "customer"
	RoleLoanOfficerProcessor = "loan_officer_processor"
	RoleLoanOfficerApproval  = "loan_officer_approval"
	RoleAdmin                = "admin"
	RoleManagement           = "management"
	RoleSuperAdmin           = "super_admin"
)

var AllRoles = []string{
	RoleCustomer,
	RoleLoanOfficerProcessor,
	RoleLoanOfficerApproval,
	RoleAdmin,
	RoleManagement,
	RoleSuperAdmin,
}

// Role groups used by route gates and service checks.
var (
	StaffRoles    = []string{RoleLoanOfficerProcessor, RoleLoanOfficerApproval, RoleAdmin, RoleManagement, RoleSuperAdmin}
	OfficerRoles  = []string{RoleLoanOfficerProcessor, RoleLoanOfficerApproval, RoleAdmin, RoleSuperAdmin}
	ApproverRoles = []string{RoleLoanOfficerApproval, RoleAdmin, RoleSuperAdmin}
	AdminRoles    = []string{RoleAdmin, RoleSuperAdmin}
	AuditRoles    = []string{RoleAdmin, RoleManagement, RoleSuperAdmin}
)

const (
	ChannelWeb     = "web"
	ChannelSystem  = "system"
	ChannelWebhook = "webhook"
)

// Actor is the resolved identity every core operation runs as.
type Actor struct {
	ID        string
	Roles     []string
	IP        string
	UserAgent string
	Channel   string
}

// SystemActor is used by the scheduler and gateway callbacks.
func SystemActor(channel string) Actor {
	return Actor{ID: SystemActorID, Roles: []string{RoleSuperAdmin}, Channel: channel}
}

const SystemActorID = "system"

func (a Actor) HasAnyRole(roles ...string) bool {
	for _, r := range a.Roles {
		if slices.Contains(roles, r) {
			return true
		}
	}
	return false
}

func (a Actor) IsStaff() bool {
	return a.HasAnyRole(StaffRoles...)
}

func (a Actor) IsOfficer() bool {
	return a.HasAnyRole(OfficerRoles...)
}

func (a Actor) CanApprove() bool {
	return a.HasAnyRole(ApproverRoles...)
}

func (a Actor) IsAdmin() bool {
	return a.HasAnyRole(AdminRoles...)
}

func (a Actor) IsSystem() bool {
	return a.ID == SystemActorID
}

func ValidRoles(roles []string) bool {
	if len(roles) == 0 {
		return false
	}
	for _, r := range roles {
		if !slices.Contains(AllRoles, r) {
			return false
		}
	}
	return true
}
