package runner

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"sort"
	"strings"

	apperrors "github.com/alasbuild/testforge/pkg/errors"
)

// ImageCatalog lists the template names the VM provider currently offers.
// The OpenNebula XML-RPC client itself is out of scope (spec.md §1); this
// narrow interface is all the driver needs to find a match.
type ImageCatalog interface {
	Images(ctx context.Context) ([]string, error)
}

// StaticCatalog is a fixed, in-memory catalog, useful for tests and for
// deployments that snapshot their template list at startup.
type StaticCatalog []string

func (c StaticCatalog) Images(ctx context.Context) ([]string, error) {
	return []string(c), nil
}

// HTTPCatalog polls a JSON endpoint returning a bare array of template
// names, grounded on the same bearer-GET-and-decode shape the scheduler uses
// against the upstream build system.
type HTTPCatalog struct {
	Endpoint string
	Token    string
	Client   *http.Client
}

func (c *HTTPCatalog) Images(ctx context.Context) ([]string, error) {
	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Endpoint, nil)
	if err != nil {
		return nil, err
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var names []string
	if err := json.NewDecoder(resp.Body).Decode(&names); err != nil {
		return nil, err
	}
	return names, nil
}

// thirtyTwoBitArches is the full 32-bit list i686 expands to, per spec.md
// §4.4's template regex assembly rule.
var thirtyTwoBitArches = []string{"i386", "i486", "i586", "i686"}

// buildImagePattern assembles the template-selection regex:
// <dist_name>-<dist_version>-(<arches>).<flavor>.test_system.(<channel-alt>).b\d{8}-\d+
func buildImagePattern(distName, distVersion, arch, flavor string, channels []string) string {
	arches := regexp.QuoteMeta(arch)
	for _, a := range thirtyTwoBitArches {
		if a == arch {
			arches = strings.Join(thirtyTwoBitArches, "|")
			break
		}
	}

	channelAlt := strings.Join(channels, "|")

	return "^" + regexp.QuoteMeta(distName) + "-" + regexp.QuoteMeta(distVersion) + "-(" +
		arches + ")\\." + regexp.QuoteMeta(flavor) + "\\.test_system\\.(" +
		channelAlt + ")\\.b\\d{8}-\\d+$"
}

// doubledForEmbedding doubles every backslash in pattern, matching the
// original's requirement when the regex text is embedded as a string
// literal in a declarative (HCL/JSON) document rather than compiled
// in-process.
func doubledForEmbedding(pattern string) string {
	return strings.ReplaceAll(pattern, `\`, `\\`)
}

// selectImage finds the most recent catalog entry matching dist/arch/flavor/
// channels, where "most recent" is the lexicographically greatest name
// (build suffixes b<yyyymmdd>-<n> sort correctly under plain string order).
func selectImage(names []string, distName, distVersion, arch, flavor string, channels []string) (string, error) {
	pattern := buildImagePattern(distName, distVersion, arch, flavor, channels)
	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", err
	}

	var matches []string
	for _, n := range names {
		if re.MatchString(n) {
			matches = append(matches, n)
		}
	}
	if len(matches) == 0 {
		return "", &apperrors.VMImageNotFoundError{Search: apperrors.VMImageSearch{
			DistName: distName, DistVersion: distVersion, Arch: arch,
			Flavor: flavor, Channels: channels, Pattern: doubledForEmbedding(pattern),
		}}
	}

	sort.Sort(sort.Reverse(sort.StringSlice(matches)))
	return matches[0], nil
}
