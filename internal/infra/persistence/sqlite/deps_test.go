package sqlite

import (
	"strings"
	"testing"

	"crmcore/testutil"
)

func TestImportsAreDomainOrStdlib(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", func(imp string) bool {
		return strings.HasPrefix(imp, "crmcore/") && imp != "crmcore/pkg/domain" && imp != "crmcore/internal/entitymodel/sqlbundle"
	}, "snapshot store only depends on the domain contract")
}
