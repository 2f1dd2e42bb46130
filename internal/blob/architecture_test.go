package blob

import (
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/tools/go/packages"
)

const (
	blobPrefix  = "crmcore/internal/blob"
	infraPrefix = "crmcore/internal/infra/blob"
)

// Only this package may construct drivers; everything else depends on
// blob.Store. Drivers in turn may only reach the core contract.
func TestBlobImportBoundaries(t *testing.T) {
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports, Tests: true}
	pkgs, err := packages.Load(cfg, "crmcore/...")
	require.NoError(t, err, "load packages")

	seen := make(map[string]struct{})
	for _, pkg := range pkgs {
		path := strings.TrimSuffix(pkg.PkgPath, "_test")
		switch {
		case hasPrefix(path, blobPrefix):
			continue
		case hasPrefix(path, infraPrefix):
			for imp := range pkg.Imports {
				if strings.HasPrefix(imp, "crmcore/") && !hasPrefix(imp, blobPrefix+"/core") && !hasPrefix(imp, infraPrefix) {
					seen[pkg.PkgPath+": "+imp] = struct{}{}
				}
			}
		default:
			for imp := range pkg.Imports {
				if hasPrefix(imp, infraPrefix) {
					seen[pkg.PkgPath+": "+imp] = struct{}{}
				}
			}
		}
	}

	violations := make([]string, 0, len(seen))
	for v := range seen {
		violations = append(violations, v)
	}
	sort.Strings(violations)
	require.Empty(t, violations, "forbidden blob imports")
}

func hasPrefix(importPath, prefix string) bool {
	return importPath == prefix || strings.HasPrefix(importPath, prefix+"/")
}
