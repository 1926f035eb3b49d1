package types

// ArchitectureClass is an equivalence class of dist_arch values that all
// route to the same queue arch / platform selection.
type ArchitectureClass string

const (
	ArchAarch64 ArchitectureClass = "aarch64"
	ArchX86_64  ArchitectureClass = "x86_64"
	ArchPPC64LE ArchitectureClass = "ppc64le"
	ArchS390X   ArchitectureClass = "s390x"
)

// DefaultArchitecturesMapping is the shared equivalence table from spec 3;
// individual drivers may narrow it (e.g. docker omits s390x) by returning a
// restricted copy from Driver.ArchitecturesMapping.
var DefaultArchitecturesMapping = map[ArchitectureClass][]string{
	ArchAarch64: {"arm64", "aarch64"},
	ArchX86_64:  {"x86_64", "amd64", "i386", "i486", "i586", "i686"},
	ArchPPC64LE: {"ppc64le"},
	ArchS390X:   {"s390x"},
}

// ResolveArchClass scans mapping for the class containing arch, returning
// ("", false) if no class contains it (a coding/config error per spec 4.1).
func ResolveArchClass(mapping map[ArchitectureClass][]string, arch string) (ArchitectureClass, bool) {
	for class, members := range mapping {
		for _, m := range members {
			if m == arch {
				return class, true
			}
		}
	}
	return "", false
}
