package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderInventory_Minimal(t *testing.T) {
	out, err := RenderInventory(InventoryContext{Host: "10.0.0.5", User: "root"})
	require.NoError(t, err)
	assert.Contains(t, out, "10.0.0.5 ansible_user=root")
	assert.NotContains(t, out, "ansible_ssh_private_key_file")
	assert.NotContains(t, out, "ansible_connection")
}

func TestRenderInventory_WithSSHKeyAndConnection(t *testing.T) {
	out, err := RenderInventory(InventoryContext{
		Host: "localhost", User: "runner", SSHKeyFile: "/keys/id_rsa", Connection: "local",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "ansible_ssh_private_key_file=/keys/id_rsa")
	assert.Contains(t, out, "ansible_connection=local")
}
