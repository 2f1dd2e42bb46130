package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crmcore/internal/blob"
	"crmcore/internal/core"
	"crmcore/internal/entitymodel"
	"crmcore/pkg/domain"
)

type cliEnv struct {
	dir  string
	vars map[string]string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	dir := t.TempDir()
	return &cliEnv{dir: dir, vars: map[string]string{
		"CRMCORE_SNAPSHOT_DRIVER": "sqlite",
		"CRMCORE_SQLITE_PATH":     filepath.Join(dir, "crm.db"),
		"CRMCORE_BLOB_FS_ROOT":    filepath.Join(dir, "blobs"),
		"CRMCORE_LOG_LEVEL":       "error",
	}}
}

func (e *cliEnv) lookup(key string) (string, bool) {
	v, ok := e.vars[key]
	return v, ok
}

func (e *cliEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand(e.lookup)
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append(args, "--env-file", filepath.Join(e.dir, "absent.env")))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func (e *cliEnv) mustJSON(t *testing.T, out any, args ...string) {
	t.Helper()
	stdout, err := e.run(t, append(args, "--format", "json")...)
	require.NoError(t, err, strings.Join(args, " "))
	require.NoError(t, json.Unmarshal([]byte(stdout), out), stdout)
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "crmcore", cmd.Use)

	for _, name := range []string{
		"put", "get", "list", "delete", "note", "convert-lead", "lead-to-deal", "close-deal",
		"quote-to-invoice", "accept-quote", "pay", "reconcile", "blueprints", "industry",
		"role", "numbering", "entities", "stats", "export", "sync",
	} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}

	format := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, "text", format.DefValue)
	assert.Equal(t, "v", cmd.PersistentFlags().Lookup("verbose").Shorthand)
}

func TestInvalidFormat(t *testing.T) {
	env := newCLIEnv(t)
	_, err := env.run(t, "stats", "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestLeadLifecycleAcrossInvocations(t *testing.T) {
	env := newCLIEnv(t)

	var lead domain.Record
	env.mustJSON(t, &lead, "put", "leads", "--data", `{"id":"L1","company":"Acme","firstName":"Ada","estimatedValue":5000}`)
	assert.Equal(t, "L1", lead.ID)

	var conv core.LeadConversion
	env.mustJSON(t, &conv, "convert-lead", "L1")
	require.True(t, conv.Success, conv.Error)

	var deal domain.Record
	env.mustJSON(t, &deal, "get", "deals", conv.DealID)
	assert.Equal(t, "5000", deal.Decimal("amount").String())
	assert.Equal(t, conv.AccountID, deal.String("accountId"))

	var stats core.Stats
	env.mustJSON(t, &stats, "stats")
	assert.Equal(t, 1, stats.OpenDeals)
	assert.Equal(t, "5000", stats.PipelineValue.String())

	_, err := env.run(t, "convert-lead", "L1")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var won core.DealWon
	env.mustJSON(t, &won, "close-deal", conv.DealID)
	assert.True(t, won.Success)
	assert.Equal(t, conv.AccountID, won.AccountID)

	var trail []domain.Record
	env.mustJSON(t, &trail, "list", "audit_logs")
	assert.NotEmpty(t, trail)
}

func TestQuoteInvoicePaymentFlow(t *testing.T) {
	env := newCLIEnv(t)
	var quote domain.Record
	env.mustJSON(t, &quote, "put", "quotes", "--data", `{"id":"Q1","total":"250.00","status":"Sent"}`)
	assert.Equal(t, "QT-1001", quote.String("quoteNumber"))

	var conv core.QuoteConversion
	env.mustJSON(t, &conv, "quote-to-invoice", "Q1")
	require.True(t, conv.Success, conv.Error)

	stdout, err := env.run(t, "pay", conv.InvoiceID, "100", "--method", "card")
	require.NoError(t, err)
	assert.Equal(t, "remaining 150.00\n", stdout)

	_, err = env.run(t, "pay", conv.InvoiceID, "abc")
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestDeleteCascadesAndNotes(t *testing.T) {
	env := newCLIEnv(t)
	_, err := env.run(t, "put", "deals", "--data", `{"id":"D1","title":"Roof"}`)
	require.NoError(t, err)
	_, err = env.run(t, "note", "deals", "D1", "called the customer")
	require.NoError(t, err)

	var notes []domain.Record
	env.mustJSON(t, &notes, "list", "communications", "--related-to", "D1", "--related-type", "deals")
	require.Len(t, notes, 1)

	stdout, err := env.run(t, "delete", "deals", "D1")
	require.NoError(t, err)
	assert.Equal(t, "deleted deals D1\n", stdout)

	env.mustJSON(t, &notes, "list", "communications")
	assert.Empty(t, notes)
}

func TestBlueprintsAndIndustry(t *testing.T) {
	env := newCLIEnv(t)
	var list []blueprintSummary
	env.mustJSON(t, &list, "blueprints")
	require.Len(t, list, 3)
	assert.True(t, list[0].Active)
	assert.Equal(t, "general", list[0].Industry)

	_, err := env.run(t, "industry", "solar")
	require.NoError(t, err)
	env.mustJSON(t, &list, "blueprints")
	for _, bp := range list {
		assert.Equal(t, bp.Industry == "solar", bp.Active, bp.Industry)
	}

	_, err = env.run(t, "industry", "spaceflight")
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestEntitiesNeedsNoStore(t *testing.T) {
	env := newCLIEnv(t)
	env.vars["CRMCORE_SNAPSHOT_DRIVER"] = "floppy"

	var model entitymodel.Model
	env.mustJSON(t, &model, "entities")
	assert.Equal(t, entitymodel.Version(), model.Version)
	assert.Len(t, model.Entities, len(domain.EntityTypes()))

	stdout, err := env.run(t, "entities")
	require.NoError(t, err)
	assert.Contains(t, stdout, entitymodel.Version())
	assert.Contains(t, stdout, "numberField: invoiceNumber")
}

func TestExportWritesBlob(t *testing.T) {
	env := newCLIEnv(t)
	_, err := env.run(t, "put", "accounts", "--data", `{"id":"A1","name":"Acme, Inc"}`)
	require.NoError(t, err)

	var info blob.Info
	env.mustJSON(t, &info, "export", "accounts", "--as", "CSV")
	assert.True(t, strings.HasPrefix(info.Key, core.ExportPrefix+"accounts-"), info.Key)
	data, err := os.ReadFile(filepath.Join(env.vars["CRMCORE_BLOB_FS_ROOT"], filepath.FromSlash(info.Key)))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"Acme, Inc"`)
}

func TestSyncWithoutRemote(t *testing.T) {
	env := newCLIEnv(t)
	_, err := env.run(t, "put", "tasks", "--data", `{"id":"T1"}`)
	require.NoError(t, err)

	var sum syncSummary
	env.mustJSON(t, &sum, "sync")
	assert.False(t, sum.Remote)
	assert.Positive(t, sum.Hydrate.LocalBuckets)
}

func TestCommandErrors(t *testing.T) {
	env := newCLIEnv(t)
	_, err := env.run(t, "get", "spaceships", "x")
	assert.Equal(t, ExitFailure, GetExitCode(err))

	_, err = env.run(t, "put", "deals", "--data", "{not json")
	assert.Equal(t, ExitFailure, GetExitCode(err))

	env.vars["CRMCORE_SNAPSHOT_DRIVER"] = "floppy"
	_, err = env.run(t, "stats")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestActorFromConfig(t *testing.T) {
	env := newCLIEnv(t)
	_, err := env.run(t, "put", "deals", "--data", `{"id":"D1","ownerId":"someone"}`)
	require.NoError(t, err)

	env.vars["CRMCORE_ACTOR_ID"] = "tech"
	env.vars["CRMCORE_ACTOR_ROLE"] = "technician"
	_, err = env.run(t, "get", "deals", "D1")
	assert.Equal(t, ExitFailure, GetExitCode(err))
	_, err = env.run(t, "delete", "deals", "D1")
	assert.Equal(t, ExitFailure, GetExitCode(err))
}
