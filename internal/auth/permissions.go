package auth

import "slices"

// Permission is a named capability.
type Permission string

const (
	PermDeviceRead      Permission = "device:read"
	PermDeviceOperate   Permission = "device:operate"
	PermDeviceConfigure Permission = "device:configure"
	PermRuleTrigger     Permission = "rule:trigger"
	PermRuleManage      Permission = "rule:manage"
	PermHardwareManage  Permission = "hardware:manage"
	PermNotifyManage    Permission = "notify:manage"
	PermUserManage      Permission = "user:manage"
	PermSystemRead      Permission = "system:read"
)

var rolePermissions = map[Role][]Permission{
	RoleViewer: {
		PermDeviceRead,
		PermSystemRead,
	},
	RoleUser: {
		PermDeviceRead,
		PermDeviceOperate,
		PermRuleTrigger,
		PermSystemRead,
	},
	RoleAdmin: {
		PermDeviceRead,
		PermDeviceOperate,
		PermDeviceConfigure,
		PermRuleTrigger,
		PermRuleManage,
		PermHardwareManage,
		PermNotifyManage,
		PermUserManage,
		PermSystemRead,
	},
}

// HasPermission reports whether role grants perm.
func HasPermission(role Role, perm Permission) bool {
	return slices.Contains(rolePermissions[role], perm)
}

// PermissionsForRole returns a copy of the permissions of role, nil for
// an unknown role.
func PermissionsForRole(role Role) []Permission {
	return slices.Clone(rolePermissions[role])
}
