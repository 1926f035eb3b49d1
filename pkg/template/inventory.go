package template

const inventoryTemplate = `[test_env]
{{.Host}} ansible_user={{.User}}{{if .SSHKeyFile}} ansible_ssh_private_key_file={{.SSHKeyFile}}{{end}}{{if .Connection}} ansible_connection={{.Connection}}{{end}}
`

// InventoryContext describes one Ansible inventory entry.
type InventoryContext struct {
	Host       string
	User       string
	SSHKeyFile string
	Connection string // e.g. "docker" for the container driver
}

// RenderInventory produces a byte-stable single-host inventory file for the
// initial_provision and run_package_integrity_tests stages.
func RenderInventory(ctx InventoryContext) (string, error) {
	return Render("inventory", inventoryTemplate, ctx)
}
