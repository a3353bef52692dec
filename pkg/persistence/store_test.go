package persistence

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "briefgen.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestCreateAndGetInvestigation(t *testing.T) {
	store := openTestStore(t)

	id, err := store.CreateInvestigation("Acme Corp", "alice", "", time.Now())
	require.NoError(t, err)
	require.NotEmpty(t, id)

	inv, err := store.GetInvestigation(id)
	require.NoError(t, err)
	require.NotNil(t, inv)
	assert.Equal(t, "Acme Corp", inv.Subject)
	assert.Equal(t, "alice", inv.OwnerID)
	assert.Equal(t, StatusPending, inv.Status)
	assert.Nil(t, inv.Score)
	assert.Nil(t, inv.CompletedAt)
	assert.False(t, inv.Refunded)
}

func TestCreateInvestigation_Validation(t *testing.T) {
	store := openTestStore(t)

	_, err := store.CreateInvestigation("", "alice", "", time.Now())
	assert.Error(t, err)
	_, err = store.CreateInvestigation("Acme", "", "", time.Now())
	assert.Error(t, err)
}

func TestGetInvestigation_NotFound(t *testing.T) {
	store := openTestStore(t)
	inv, err := store.GetInvestigation("missing")
	require.NoError(t, err)
	assert.Nil(t, inv)
}

func TestSetKind(t *testing.T) {
	store := openTestStore(t)
	id, err := store.CreateInvestigation("Acme Corp", "alice", "", time.Now())
	require.NoError(t, err)

	require.NoError(t, store.SetKind(id, KindOrganization))
	inv, err := store.GetInvestigation(id)
	require.NoError(t, err)
	assert.Equal(t, KindOrganization, inv.Kind)

	assert.Error(t, store.SetKind("missing", KindTopic))
}

func TestUpdateStatus(t *testing.T) {
	store := openTestStore(t)
	id, err := store.CreateInvestigation("Acme Corp", "alice", "", time.Now())
	require.NoError(t, err)

	require.NoError(t, store.UpdateStatus(id, StatusGenerating))
	inv, err := store.GetInvestigation(id)
	require.NoError(t, err)
	assert.Equal(t, StatusGenerating, inv.Status)

	assert.Error(t, store.UpdateStatus(id, "daydreaming"))
	assert.Error(t, store.UpdateStatus("missing", StatusScoring))
}

func TestComplete(t *testing.T) {
	store := openTestStore(t)
	id, err := store.CreateInvestigation("Acme Corp", "alice", "", time.Now())
	require.NoError(t, err)

	require.NoError(t, store.Complete(id, "final draft", 7.2, false, time.Now()))
	inv, err := store.GetInvestigation(id)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, inv.Status)
	assert.Equal(t, "final draft", inv.Draft)
	require.NotNil(t, inv.Score)
	assert.InDelta(t, 7.2, *inv.Score, 1e-9)
	assert.NotNil(t, inv.CompletedAt)
	assert.False(t, inv.Refunded)
}

func TestComplete_BelowThresholdRecordsRefund(t *testing.T) {
	store := openTestStore(t)
	id, err := store.CreateInvestigation("Acme Corp", "alice", "", time.Now())
	require.NoError(t, err)

	require.NoError(t, store.Complete(id, "best effort draft", 5.4, true, time.Now()))
	inv, err := store.GetInvestigation(id)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, inv.Status)
	assert.True(t, inv.Refunded)
}

func TestFail(t *testing.T) {
	store := openTestStore(t)
	id, err := store.CreateInvestigation("Acme Corp", "alice", "", time.Now())
	require.NoError(t, err)

	require.NoError(t, store.Fail(id, "model unavailable", true, time.Now()))
	inv, err := store.GetInvestigation(id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, inv.Status)
	assert.Equal(t, "model unavailable", inv.FailReason)
	assert.True(t, inv.Refunded)
	// A failed run never reports a completed draft.
	assert.Empty(t, inv.Draft)
}

func TestFail_WithoutRefundRecordsUnrefunded(t *testing.T) {
	store := openTestStore(t)
	id, err := store.CreateInvestigation("Acme Corp", "alice", "", time.Now())
	require.NoError(t, err)

	require.NoError(t, store.Fail(id, "refund ledger unavailable", false, time.Now()))
	inv, err := store.GetInvestigation(id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, inv.Status)
	assert.False(t, inv.Refunded)
}

func TestAddAndGetSources(t *testing.T) {
	store := openTestStore(t)
	id, err := store.CreateInvestigation("Acme Corp", "alice", "", time.Now())
	require.NoError(t, err)

	sources := []Source{
		{ID: "src-1", InvestigationID: id, Title: "Annual report", URL: "https://example.com/report", Kind: "primary"},
		{ID: "src-2", InvestigationID: id, Title: "News coverage", URL: "https://example.com/news", Kind: "secondary"},
	}
	require.NoError(t, store.AddSources(id, sources))

	got, err := store.GetInvestigationSources(id)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Annual report", got[0].Title)
	assert.Equal(t, "primary", got[0].Kind)

	other, err := store.GetInvestigationSources("missing")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestReopen_PreservesSchemaAndData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "briefgen.db")

	store, err := Open(path)
	require.NoError(t, err)
	id, err := store.CreateInvestigation("Acme Corp", "alice", "", time.Now())
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	inv, err := reopened.GetInvestigation(id)
	require.NoError(t, err)
	require.NotNil(t, inv)
	assert.Equal(t, "Acme Corp", inv.Subject)
}

func TestIsValidStatus(t *testing.T) {
	for _, s := range ValidStatuses() {
		assert.True(t, IsValidStatus(s))
	}
	assert.False(t, IsValidStatus("archived"))
}
