package runner

import (
	"fmt"
	"strings"
)

// resolvePkgManager maps a distribution family to its package manager:
// fedora, or an 8.x rhel-flavor, uses dnf; other rhel-flavors use yum;
// debian-flavors use apt-get. Anything else is a fatal configuration error.
func resolvePkgManager(distName, distVersion string) (string, error) {
	name := strings.ToLower(distName)

	switch {
	case name == "fedora":
		return "dnf", nil
	case isRHELFlavor(name):
		if strings.HasPrefix(distVersion, "8") {
			return "dnf", nil
		}
		return "yum", nil
	case isDebianFlavor(name):
		return "apt-get", nil
	default:
		return "", fmt.Errorf("no package manager mapping for distribution %q", distName)
	}
}

func isRHELFlavor(name string) bool {
	switch name {
	case "almalinux", "rhel", "centos", "rocky", "oraclelinux":
		return true
	}
	return false
}

func isDebianFlavor(name string) bool {
	switch name {
	case "debian", "ubuntu":
		return true
	}
	return false
}

// pkgSpec builds the pkg_name=<name>[-|=]<version> extra-var: '-' for
// yum/dnf, '=' for apt-get.
func pkgSpec(pkgManager, name, version string) string {
	if version == "" {
		return name
	}
	sep := "-"
	if pkgManager == "apt-get" {
		sep = "="
	}
	return name + sep + version
}
