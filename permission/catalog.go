package permission

// Module names used by the system catalog.
const (
	ModuleUsers      = "users"
	ModuleProjects   = "projects"
	ModuleChannels   = "channels"
	ModuleChaincodes = "chaincodes"
	ModuleSystem     = "system"
	ModuleTesting    = "testing"
)

type catalogEntry struct {
	name, display, description, module, resource, action string
}

var systemCatalog = []catalogEntry{
	// users
	{"user_management", "User Management", "Full user management access", ModuleUsers, "users", "manage"},
	{"view_users", "View Users", "View user information", ModuleUsers, "users", "read"},
	{"create_users", "Create Users", "Create new users", ModuleUsers, "users", "create"},
	{"update_users", "Update Users", "Update user information", ModuleUsers, "users", "update"},
	{"delete_users", "Delete Users", "Delete users", ModuleUsers, "users", "delete"},
	{"assign_roles", "Assign Roles", "Assign roles to users", ModuleUsers, "users", "manage"},

	// roles
	{"role_management", "Role Management", "Full role management access", ModuleUsers, "roles", "manage"},
	{"view_roles", "View Roles", "View role information", ModuleUsers, "roles", "read"},
	{"create_roles", "Create Roles", "Create new roles", ModuleUsers, "roles", "create"},
	{"update_roles", "Update Roles", "Update role information", ModuleUsers, "roles", "update"},
	{"delete_roles", "Delete Roles", "Delete roles", ModuleUsers, "roles", "delete"},

	// projects
	{"view_all_projects", "View All Projects", "View all projects in system", ModuleProjects, "projects", "read"},
	{"manage_all_projects", "Manage All Projects", "Full access to all projects", ModuleProjects, "projects", "manage"},
	{"view_projects", "View Projects", "View assigned projects", ModuleProjects, "projects", "read"},
	{"create_projects", "Create Projects", "Create new projects", ModuleProjects, "projects", "create"},
	{"manage_projects", "Manage Projects", "Manage assigned projects", ModuleProjects, "projects", "manage"},
	{"delete_projects", "Delete Projects", "Delete projects", ModuleProjects, "projects", "delete"},
	{"view_team_members", "View Team Members", "View project team members", ModuleProjects, "teams", "read"},
	{"manage_team_members", "Manage Team Members", "Manage project team members", ModuleProjects, "teams", "manage"},

	// channels
	{"view_all_channels", "View All Channels", "View all channels in system", ModuleChannels, "channels", "read"},
	{"manage_all_channels", "Manage All Channels", "Full access to all channels", ModuleChannels, "channels", "manage"},
	{"view_channels", "View Channels", "View assigned channels", ModuleChannels, "channels", "read"},
	{"create_channels", "Create Channels", "Create new channels", ModuleChannels, "channels", "create"},
	{"manage_channels", "Manage Channels", "Manage assigned channels", ModuleChannels, "channels", "manage"},
	{"delete_channels", "Delete Channels", "Delete channels", ModuleChannels, "channels", "delete"},

	// chaincodes
	{"view_all_chaincodes", "View All Chaincodes", "View all chaincodes in system", ModuleChaincodes, "chaincodes", "read"},
	{"manage_all_chaincodes", "Manage All Chaincodes", "Full access to all chaincodes", ModuleChaincodes, "chaincodes", "manage"},
	{"view_chaincodes", "View Chaincodes", "View assigned chaincodes", ModuleChaincodes, "chaincodes", "read"},
	{"create_chaincodes", "Create Chaincodes", "Create new chaincodes", ModuleChaincodes, "chaincodes", "create"},
	{"deploy_chaincodes", "Deploy Chaincodes", "Deploy chaincodes to channels", ModuleChaincodes, "chaincodes", "deploy"},
	{"approve_chaincodes", "Approve Chaincodes", "Approve chaincode deployments", ModuleChaincodes, "chaincodes", "approve"},
	{"invoke_chaincodes", "Invoke Chaincodes", "Invoke chaincode functions", ModuleChaincodes, "chaincodes", "invoke"},
	{"query_chaincodes", "Query Chaincodes", "Query chaincode data", ModuleChaincodes, "chaincodes", "query"},
	{"upgrade_chaincodes", "Upgrade Chaincodes", "Upgrade chaincode versions", ModuleChaincodes, "chaincodes", "upgrade"},

	// system and logs
	{"system_configuration", "System Configuration", "Configure system settings", ModuleSystem, "system", "manage"},
	{"view_system_logs", "View System Logs", "View system logs", ModuleSystem, "logs", "read"},
	{"manage_system_logs", "Manage System Logs", "Manage system logs", ModuleSystem, "logs", "manage"},
	{"view_all_logs", "View All Logs", "View all activity logs", ModuleSystem, "logs", "read"},
	{"view_project_logs", "View Project Logs", "View project-specific logs", ModuleProjects, "logs", "read"},
	{"view_development_logs", "View Development Logs", "View development logs", ModuleChaincodes, "logs", "read"},
	{"view_test_logs", "View Test Logs", "View test logs", ModuleTesting, "logs", "read"},
	{"create_test_data", "Create Test Data", "Create test data and scenarios", ModuleTesting, "data", "create"},
}

// SystemPermissions returns the built-in permission catalog. IDs are left empty for the
// store to assign.
func SystemPermissions() []Permission {
	out := make([]Permission, 0, len(systemCatalog))
	for _, e := range systemCatalog {
		out = append(out, Permission{
			Name:        e.name,
			DisplayName: e.display,
			Description: e.description,
			Module:      e.module,
			Resource:    e.resource,
			Action:      e.action,
			System:      true,
		})
	}
	return out
}

// IsSystemPermission reports whether name belongs to the built-in catalog.
func IsSystemPermission(name string) bool {
	for _, e := range systemCatalog {
		if e.name == name {
			return true
		}
	}
	return false
}

var defaultRoleGrants = map[string][]string{
	RoleAdmin: {
		"user_management",
		"role_management",
		"system_configuration",
		"view_all_projects",
		"manage_all_projects",
		"view_all_channels",
		"manage_all_channels",
		"view_all_chaincodes",
		"manage_all_chaincodes",
		"view_system_logs",
		"manage_system_logs",
	},
	RoleLeader: {
		"view_projects",
		"manage_projects",
		"view_team_members",
		"manage_team_members",
		"view_channels",
		"manage_channels",
		"view_chaincodes",
		"approve_chaincodes",
		"view_project_logs",
	},
	RoleDeveloper: {
		"view_projects",
		"create_projects",
		"view_chaincodes",
		"create_chaincodes",
		"deploy_chaincodes",
		"invoke_chaincodes",
		"query_chaincodes",
		"view_development_logs",
	},
	RoleTester: {
		"view_projects",
		"view_chaincodes",
		"invoke_chaincodes",
		"query_chaincodes",
		"create_test_data",
		"view_test_logs",
	},
}

// DefaultGrants returns the permission names a system role is seeded with.
func DefaultGrants(roleName string) []string {
	names := defaultRoleGrants[roleName]
	out := make([]string, len(names))
	copy(out, names)
	return out
}

// SystemRoles returns the four fixed roles without permission IDs.
func SystemRoles() []Role {
	return []Role{
		{Name: RoleAdmin, DisplayName: "Administrator", Description: "Full system access", Priority: PriorityOf(RoleAdmin), Active: true, System: true},
		{Name: RoleLeader, DisplayName: "Team Leader", Description: "Project and team management", Priority: PriorityOf(RoleLeader), Active: true, System: true},
		{Name: RoleDeveloper, DisplayName: "Developer", Description: "Development and deployment", Priority: PriorityOf(RoleDeveloper), Active: true, System: true},
		{Name: RoleTester, DisplayName: "Tester", Description: "Testing and validation", Priority: PriorityOf(RoleTester), Active: true, System: true},
	}
}
