package journal_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kboghdady/puppet/journal"
)

func TestAppendAndRecentPreservesOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bootstrap.db")
	j, err := journal.Open(path)
	require.NoError(t, err)
	defer j.Close()

	for i, state := range []string{"NeedCACerts", "NeedCRLs", "NeedKey"} {
		require.NoError(t, j.Append(journal.Entry{
			AttemptID: "attempt-1",
			State:     state,
			Outcome:   "advanced",
			Time:      time.Now().Add(time.Duration(i) * time.Second),
		}))
	}

	entries, err := j.Recent(10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "NeedCACerts", entries[0].State)
	assert.Equal(t, "NeedCRLs", entries[1].State)
	assert.Equal(t, "NeedKey", entries[2].State)
}

func TestRecentRespectsLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bootstrap.db")
	j, err := journal.Open(path)
	require.NoError(t, err)
	defer j.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, j.Append(journal.Entry{State: "NeedCACerts"}))
	}

	entries, err := j.Recent(2)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestReopenPreservesHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bootstrap.db")
	j, err := journal.Open(path)
	require.NoError(t, err)
	require.NoError(t, j.Append(journal.Entry{State: "NeedCACerts"}))
	require.NoError(t, j.Close())

	j2, err := journal.Open(path)
	require.NoError(t, err)
	defer j2.Close()

	entries, err := j2.Recent(10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "NeedCACerts", entries[0].State)
}
