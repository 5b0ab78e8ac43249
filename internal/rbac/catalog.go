package rbac

// Permission categories. The category drives the hierarchy level and tier
// restriction a seeded permission receives.
const (
	CategoryPlatform = "platform"
	CategoryFirm     = "firm"
	CategoryTeam     = "team"
	CategoryClient   = "client"
	CategoryReturn   = "return"
	CategoryDocument = "document"
	CategoryBilling  = "billing"
	CategoryReport   = "report"
	CategoryProfile  = "profile"
)

// CategoryPolicy derives the minimum hierarchy level and tier restriction
// for a permission category. Platform permissions require platform seniority
// and the enterprise plan; firm-operations categories require firm seniority
// and at least the professional plan; everything else is open to all tiers.
func CategoryPolicy(category string) (minLevel int, restriction []Tier) {
	switch category {
	case CategoryPlatform:
		return HierarchyPlatform, []Tier{TierEnterprise}
	case CategoryFirm, CategoryTeam, CategoryClient, CategoryReturn, CategoryDocument:
		return HierarchyFirm, []Tier{TierProfessional, TierEnterprise}
	default:
		return HierarchyUser, nil
	}
}

// PermissionSpec is one catalog entry. Hierarchy level and tier restriction
// are not listed here; they are derived from the category at seed time.
type PermissionSpec struct {
	Code        string
	Name        string
	Description string
	Category    string
}

// PermissionCatalog is the compiled, versioned permission definition map
// supplied by the hosting application at startup.
type PermissionCatalog struct {
	Version     string
	Permissions []PermissionSpec
}

// Lookup returns the spec for a code.
func (c PermissionCatalog) Lookup(code string) (PermissionSpec, bool) {
	for _, spec := range c.Permissions {
		if spec.Code == code {
			return spec, true
		}
	}
	return PermissionSpec{}, false
}

// RoleSpec is one system-role catalog entry.
type RoleSpec struct {
	Code           string
	Name           string
	Description    string
	HierarchyLevel int
	DisplayOrder   int
	Permissions    []string
}

// RoleCatalog is the compiled, versioned role→permission map supplied by
// the hosting application at startup.
type RoleCatalog struct {
	Version string
	Roles   []RoleSpec
}

// Lookup returns the spec for a role code.
func (c RoleCatalog) Lookup(code string) (RoleSpec, bool) {
	for _, spec := range c.Roles {
		if spec.Code == code {
			return spec, true
		}
	}
	return RoleSpec{}, false
}

// DefaultPermissionCatalog returns the built-in permission definitions.
func DefaultPermissionCatalog() PermissionCatalog {
	return PermissionCatalog{
		Version: "2026.08",
		Permissions: []PermissionSpec{
			{Code: "platform.partners.manage", Name: "Manage partners", Description: "Create and administer partner organisations", Category: CategoryPlatform},
			{Code: "platform.firms.manage", Name: "Manage firms", Description: "Create and administer firms across partners", Category: CategoryPlatform},
			{Code: "platform.catalog.sync", Name: "Sync catalogs", Description: "Re-run permission and role catalog seeding", Category: CategoryPlatform},
			{Code: "platform.audit.view", Name: "View platform audit trail", Description: "Read the platform-wide audit trail", Category: CategoryPlatform},
			{Code: "platform.impersonate", Name: "Impersonate users", Description: "Act on behalf of another user", Category: CategoryPlatform},

			{Code: "firm.settings.view", Name: "View firm settings", Description: "Read firm configuration", Category: CategoryFirm},
			{Code: "firm.settings.edit", Name: "Edit firm settings", Description: "Change firm configuration", Category: CategoryFirm},
			{Code: "firm.roles.view", Name: "View roles", Description: "List role templates and their permissions", Category: CategoryFirm},
			{Code: "firm.roles.manage", Name: "Manage roles", Description: "Create, edit and delete custom roles", Category: CategoryFirm},
			{Code: "firm.users.view", Name: "View firm users", Description: "List users within the firm", Category: CategoryFirm},
			{Code: "firm.users.manage", Name: "Manage firm users", Description: "Invite, deactivate and assign roles to firm users", Category: CategoryFirm},
			{Code: "firm.overrides.manage", Name: "Manage permission overrides", Description: "Grant or revoke per-user permission exceptions", Category: CategoryFirm},

			{Code: "team.view", Name: "View teams", Description: "List teams and membership", Category: CategoryTeam},
			{Code: "team.manage", Name: "Manage teams", Description: "Create teams and edit membership", Category: CategoryTeam},
			{Code: "team.workload.view", Name: "View team workload", Description: "Read workload dashboards for a team", Category: CategoryTeam},

			{Code: "client.view", Name: "View clients", Description: "Read client records", Category: CategoryClient},
			{Code: "client.create", Name: "Create clients", Description: "Add client records", Category: CategoryClient},
			{Code: "client.edit", Name: "Edit clients", Description: "Modify client records", Category: CategoryClient},
			{Code: "client.archive", Name: "Archive clients", Description: "Archive and restore client records", Category: CategoryClient},
			{Code: "client.export", Name: "Export client data", Description: "Export client data out of the platform", Category: CategoryClient},
			{Code: "client.notes.view", Name: "View client notes", Description: "Read internal client notes", Category: CategoryClient},

			{Code: "return.view", Name: "View returns", Description: "Read tax returns", Category: CategoryReturn},
			{Code: "return.prepare", Name: "Prepare returns", Description: "Create and edit tax returns", Category: CategoryReturn},
			{Code: "return.review", Name: "Review returns", Description: "Review and approve prepared returns", Category: CategoryReturn},
			{Code: "return.file", Name: "File returns", Description: "Submit returns to the tax authority", Category: CategoryReturn},
			{Code: "return.reopen", Name: "Reopen returns", Description: "Reopen a filed or reviewed return", Category: CategoryReturn},

			{Code: "document.view", Name: "View documents", Description: "Read uploaded documents", Category: CategoryDocument},
			{Code: "document.upload", Name: "Upload documents", Description: "Add documents to a client file", Category: CategoryDocument},
			{Code: "document.delete", Name: "Delete documents", Description: "Remove documents from a client file", Category: CategoryDocument},
			{Code: "document.share", Name: "Share documents", Description: "Share documents with clients", Category: CategoryDocument},

			{Code: "billing.view", Name: "View billing", Description: "Read invoices and subscription status", Category: CategoryBilling},
			{Code: "billing.manage", Name: "Manage billing", Description: "Change plans and payment methods", Category: CategoryBilling},

			{Code: "report.view", Name: "View reports", Description: "Read practice reports", Category: CategoryReport},
			{Code: "report.export", Name: "Export reports", Description: "Export practice reports", Category: CategoryReport},

			{Code: "profile.view", Name: "View own profile", Description: "Read own account profile", Category: CategoryProfile},
			{Code: "profile.edit", Name: "Edit own profile", Description: "Update own account profile", Category: CategoryProfile},
		},
	}
}

// DefaultRoleCatalog returns the built-in system roles.
func DefaultRoleCatalog() RoleCatalog {
	return RoleCatalog{
		Version: "2026.08",
		Roles: []RoleSpec{
			{
				Code: "platform_admin", Name: "Platform Administrator",
				Description:    "Operates the platform itself",
				HierarchyLevel: HierarchyPlatform, DisplayOrder: 0,
				Permissions: []string{
					"platform.partners.manage", "platform.firms.manage", "platform.catalog.sync",
					"platform.audit.view", "platform.impersonate",
				},
			},
			{
				Code: "partner_admin", Name: "Partner Administrator",
				Description:    "Administers the firms under a partner organisation",
				HierarchyLevel: HierarchyPartner, DisplayOrder: 10,
				Permissions: []string{
					"firm.settings.view", "firm.settings.edit", "firm.roles.view", "firm.roles.manage",
					"firm.users.view", "firm.users.manage", "firm.overrides.manage",
					"billing.view", "billing.manage", "report.view", "report.export",
				},
			},
			{
				Code: "firm_admin", Name: "Firm Administrator",
				Description:    "Full control within one firm",
				HierarchyLevel: HierarchyFirm, DisplayOrder: 20,
				Permissions: []string{
					"firm.settings.view", "firm.settings.edit", "firm.roles.view", "firm.roles.manage",
					"firm.users.view", "firm.users.manage", "firm.overrides.manage",
					"team.view", "team.manage", "team.workload.view",
					"client.view", "client.create", "client.edit", "client.archive", "client.export", "client.notes.view",
					"return.view", "return.prepare", "return.review", "return.file", "return.reopen",
					"document.view", "document.upload", "document.delete", "document.share",
					"billing.view", "report.view", "report.export",
					"profile.view", "profile.edit",
				},
			},
			{
				Code: "firm_manager", Name: "Firm Manager",
				Description:    "Manages teams and client work without firm administration",
				HierarchyLevel: HierarchyFirm, DisplayOrder: 30,
				Permissions: []string{
					"firm.users.view", "firm.roles.view",
					"team.view", "team.manage", "team.workload.view",
					"client.view", "client.create", "client.edit", "client.notes.view",
					"return.view", "return.prepare", "return.review",
					"document.view", "document.upload", "document.share",
					"report.view", "profile.view", "profile.edit",
				},
			},
			{
				Code: "senior_preparer", Name: "Senior Preparer",
				Description:    "Prepares and reviews returns",
				HierarchyLevel: HierarchyUser, DisplayOrder: 40,
				Permissions: []string{
					"client.view", "client.notes.view",
					"return.view", "return.prepare", "return.review",
					"document.view", "document.upload",
					"profile.view", "profile.edit",
				},
			},
			{
				Code: "preparer", Name: "Preparer",
				Description:    "Prepares returns for review",
				HierarchyLevel: HierarchyUser, DisplayOrder: 50,
				Permissions: []string{
					"client.view", "return.view", "return.prepare",
					"document.view", "document.upload",
					"profile.view", "profile.edit",
				},
			},
			{
				Code: "reviewer", Name: "Reviewer",
				Description:    "Reviews prepared returns",
				HierarchyLevel: HierarchyUser, DisplayOrder: 60,
				Permissions: []string{
					"client.view", "return.view", "return.review",
					"document.view", "profile.view", "profile.edit",
				},
			},
			{
				Code: "client_viewer", Name: "Client Viewer",
				Description:    "Read-only access to assigned client records",
				HierarchyLevel: HierarchyResource, DisplayOrder: 70,
				Permissions: []string{
					"client.view", "return.view", "document.view", "profile.view",
				},
			},
		},
	}
}
