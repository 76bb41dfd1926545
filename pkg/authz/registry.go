package authz

const (
	RoleTenantAdmin = "tenant-admin"
	RoleMember      = "member"
	RoleAnonymous   = "anonymous"
	RoleSuperadmin  = "superadmin"
)

const (
	ActionRead   = "read"
	ActionWrite  = "write"
	ActionDelete = "delete"
	ActionAdmin  = "admin"
)

const DomainAny = "*"

const (
	ObjectVaultEntries     = "vault.entries"
	ObjectVaultCollections = "vault.collections"
	ObjectIAMSession       = "iam.session"
	ObjectIAMMemberships   = "iam.memberships"
	ObjectAuditLogs        = "audit.logs"
)
