// Package template renders the Terraform main/variables files and the
// Ansible inventory each driver needs to hand the runner pipeline a
// reproducible environment definition.
package template

import (
	"bytes"
	"fmt"
	"text/template"
)

// RenderContext carries everything a driver's templates need. Each driver
// populates the subset it uses; unused fields are left zero.
type RenderContext struct {
	EnvName      string
	DistName     string
	DistVersion  string
	DistArch     string
	Image        string // container driver
	Platform     string // container driver
	Network      string
	HTTPProxy    string
	HTTPSProxy   string
	NoProxy      string
	TemplateName string // VM driver: resolved catalog entry
	VMGroup      string
	ProviderEndpoint string
	ProviderUser     string
	ProviderPassword string
}

// Render parses tpl as a text/template and executes it against data,
// returning the byte-stable rendered string.
func Render(name, tpl string, data any) (string, error) {
	t, err := template.New(name).Parse(tpl)
	if err != nil {
		return "", fmt.Errorf("parsing %s template: %w", name, err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("executing %s template: %w", name, err)
	}
	return buf.String(), nil
}

const dockerMainTemplate = `
terraform {
  required_providers {
    docker = {
      source = "kreuzwerker/docker"
    }
  }
}

provider "docker" {}

resource "docker_image" "test_image" {
  name     = "{{.Image}}"
{{- if .Platform}}
  platform = "{{.Platform}}"
{{- end}}
}

resource "docker_container" "test_env" {
  name  = "{{.EnvName}}"
  image = docker_image.test_image.image_id
{{- if .Network}}
  networks_advanced {
    name = "{{.Network}}"
  }
{{- end}}
{{- if .HTTPProxy}}
  env = [
    "http_proxy={{.HTTPProxy}}",
    "https_proxy={{.HTTPSProxy}}",
    "no_proxy={{.NoProxy}}",
  ]
{{- end}}
}
`

const dockerVariablesTemplate = `
variable "env_name" {
  default = "{{.EnvName}}"
}

variable "image" {
  default = "{{.Image}}"
}
`

// RenderDockerMain renders the container driver's main.tf.
func RenderDockerMain(ctx RenderContext) (string, error) {
	return Render("docker_main", dockerMainTemplate, ctx)
}

// RenderDockerVariables renders the container driver's variables.tf.
func RenderDockerVariables(ctx RenderContext) (string, error) {
	return Render("docker_variables", dockerVariablesTemplate, ctx)
}

const opennebulaMainTemplate = `
terraform {
  required_providers {
    opennebula = {
      source = "OpenNebula/opennebula"
    }
  }
}

provider "opennebula" {
  endpoint = var.one_endpoint
  username = var.one_username
  password = var.one_password
}

resource "opennebula_virtual_machine" "test_env" {
  name     = "{{.EnvName}}"
  template_id = data.opennebula_template.base.id
  group    = "{{.VMGroup}}"
{{- if .Network}}
  nic {
    network_id = data.opennebula_network.test_net.id
  }
{{- end}}
}

data "opennebula_template" "base" {
  name = "{{.TemplateName}}"
}
{{- if .Network}}

data "opennebula_network" "test_net" {
  name = "{{.Network}}"
}
{{- end}}

output "vm_ip" {
  value = opennebula_virtual_machine.test_env.ip
}
`

const opennebulaVariablesTemplate = `
variable "one_endpoint" {
  default = "{{.ProviderEndpoint}}"
}

variable "one_username" {
  default = "{{.ProviderUser}}"
}

variable "one_password" {
  default = "{{.ProviderPassword}}"
}
`

// RenderOpenNebulaMain renders the VM driver's main.tf.
func RenderOpenNebulaMain(ctx RenderContext) (string, error) {
	return Render("opennebula_main", opennebulaMainTemplate, ctx)
}

// RenderOpenNebulaVariables renders the VM driver's variables.tf.
func RenderOpenNebulaVariables(ctx RenderContext) (string, error) {
	return Render("opennebula_variables", opennebulaVariablesTemplate, ctx)
}
