package changelog

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilupskalvis/relbranch/internal/models"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "changelog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func record(scope, entityType, id string, action models.Action) *models.MutationRecord {
	return &models.MutationRecord{
		ID:         scope + "-" + id,
		Scope:      scope,
		EntityType: entityType,
		EntityID:   id,
		Action:     action,
	}
}

func TestLog_AppendAssignsSequenceAndTime(t *testing.T) {
	l := newTestLog(t)

	r1 := record(models.ScopePrimary, "site", "s1", models.ActionCreate)
	r2 := record(models.ScopePrimary, "site", "s2", models.ActionCreate)
	require.NoError(t, l.Append(r1))
	require.NoError(t, l.Append(r2))

	assert.Equal(t, uint64(1), r1.Seq)
	assert.Equal(t, uint64(2), r2.Seq)
	assert.False(t, r1.Time.IsZero())

	err := l.Append(&models.MutationRecord{EntityType: "site", EntityID: "s3"})
	assert.Error(t, err)
}

func TestLog_ScopesAreIndependent(t *testing.T) {
	l := newTestLog(t)

	require.NoError(t, l.Append(record(models.ScopePrimary, "site", "s1", models.ActionCreate)))
	require.NoError(t, l.Append(record("branch01", "site", "s2", models.ActionCreate)))
	require.NoError(t, l.Append(record("branch01", "site", "s2", models.ActionUpdate)))

	primary, err := l.RecordsFor(models.ScopePrimary, time.Time{})
	require.NoError(t, err)
	assert.Len(t, primary, 1)

	branched, err := l.RecordsFor("branch01", time.Time{})
	require.NoError(t, err)
	require.Len(t, branched, 2)
	assert.Equal(t, models.ActionCreate, branched[0].Action)
	assert.Equal(t, models.ActionUpdate, branched[1].Action)

	empty, err := l.RecordsFor("nope", time.Time{})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestLog_RecordsForSince(t *testing.T) {
	l := newTestLog(t)

	old := record(models.ScopePrimary, "site", "s1", models.ActionCreate)
	old.Time = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, l.Append(old))

	cutoff := time.Now().UTC().Add(-time.Minute)
	recent := record(models.ScopePrimary, "site", "s2", models.ActionCreate)
	require.NoError(t, l.Append(recent))

	records, err := l.RecordsFor(models.ScopePrimary, cutoff)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "s2", records[0].EntityID)
}

func TestLog_DropScope(t *testing.T) {
	l := newTestLog(t)

	require.NoError(t, l.Append(record("branch01", "site", "s1", models.ActionCreate)))
	require.NoError(t, l.DropScope("branch01"))

	records, err := l.RecordsFor("branch01", time.Time{})
	require.NoError(t, err)
	assert.Empty(t, records)

	// Dropping an unknown scope is fine
	assert.NoError(t, l.DropScope("nope"))
}

type capturingUpdater struct {
	records []*models.MutationRecord
}

func (c *capturingUpdater) RecordMutation(rec *models.MutationRecord) error {
	c.records = append(c.records, rec)
	return nil
}

func TestLog_DiffUpdaterInvoked(t *testing.T) {
	l := newTestLog(t)
	u := &capturingUpdater{}
	l.SetDiffUpdater(u)

	rec := record("branch01", "site", "s1", models.ActionCreate)
	require.NoError(t, l.Append(rec))

	require.Len(t, u.records, 1)
	assert.Equal(t, rec.ID, u.records[0].ID)
	assert.Equal(t, uint64(1), u.records[0].Seq)
}
