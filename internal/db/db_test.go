package db

import (
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/smallsmt/internal/position"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "settings.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPragmasApplied(t *testing.T) {
	db := newTestDB(t)

	var journalMode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	var busyTimeout int
	require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
	assert.Equal(t, 5000, busyTimeout)
}

func TestMigrations_UpDownVersion(t *testing.T) {
	db := newTestDB(t)
	migrationsFS, err := MigrationsFS()
	require.NoError(t, err)

	version, dirty, err := db.MigrateVersion(migrationsFS)
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	// running again is a no-op
	require.NoError(t, db.MigrateUp(migrationsFS))

	require.NoError(t, db.MigrateDown(migrationsFS))
	version, _, err = db.MigrateVersion(migrationsFS)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	_, err = db.Mountables()
	assert.Error(t, err, "mountables table should be gone")

	require.NoError(t, db.MigrateUp(migrationsFS))
	_, err = db.Mountables()
	assert.NoError(t, err)
}

func TestOpenDB_NoSchema(t *testing.T) {
	db, err := OpenDB(filepath.Join(t.TempDir(), "bare.db"))
	require.NoError(t, err)
	defer db.Close()

	migrationsFS, err := MigrationsFS()
	require.NoError(t, err)
	version, dirty, err := db.MigrateVersion(migrationsFS)
	require.NoError(t, err)
	assert.Zero(t, version)
	assert.False(t, dirty)
}

func TestSettings(t *testing.T) {
	db := newTestDB(t)

	_, ok, err := db.GetSetting("missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, db.SetSetting("b", "2"))
	require.NoError(t, db.SetSetting("a", "1"))
	require.NoError(t, db.SetSetting("a", "3"))

	v, ok, err := db.GetSetting("a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "3", v)

	settings, err := db.Settings()
	require.NoError(t, err)
	require.Len(t, settings, 2)
	assert.Equal(t, []string{"a", "b"}, []string{settings[0].Key, settings[1].Key})
	assert.NotZero(t, settings[0].UpdatedAt)
}

func TestFeedRate(t *testing.T) {
	db := newTestDB(t)

	_, ok, err := db.FeedRate()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, db.SetFeedRate(2500.5))
	v, ok, err := db.FeedRate()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2500.5, v)

	assert.Error(t, db.SetFeedRate(-1))
	assert.Error(t, db.SetFeedRate(math.NaN()))

	require.NoError(t, db.SetSetting(SettingFeedRate, "fast"))
	_, _, err = db.FeedRate()
	assert.Error(t, err)
}

func TestMountables(t *testing.T) {
	db := newTestDB(t)

	m, err := db.GetMountable("N1")
	require.NoError(t, err)
	assert.Nil(t, m)

	n1 := position.Mountable{Name: "N1", Head: "H1", Offset: position.Location{X: 1.5, Y: -2}}
	n2 := position.Mountable{Name: "N2", Head: "H1", Offset: position.Location{X: 40, Rotation: 90}}
	require.NoError(t, db.SaveMountable(n2))
	require.NoError(t, db.SaveMountable(n1))

	n1.Offset.Z = 3
	require.NoError(t, db.SaveMountable(n1))

	got, err := db.Mountables()
	require.NoError(t, err)
	if diff := cmp.Diff([]position.Mountable{n1, n2}, got); diff != "" {
		t.Errorf("Mountables() mismatch (-want +got):\n%s", diff)
	}

	require.NoError(t, db.DeleteMountable("N2"))
	require.NoError(t, db.DeleteMountable("N2"))
	got, err = db.Mountables()
	require.NoError(t, err)
	assert.Len(t, got, 1)

	assert.Error(t, db.SaveMountable(position.Mountable{Name: "N3"}))
	assert.Error(t, db.SaveMountable(position.Mountable{Name: "N3", Head: "H1", Offset: position.Unspecified()}))
}

func TestAttachAdminRoutes(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.SetFeedRate(100))

	mux := http.NewServeMux()
	require.NoError(t, db.AttachAdminRoutes(mux))

	req := httptest.NewRequest(http.MethodGet, "/debug/settings", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	// debug access control may refuse the request, but the route must exist
	assert.NotEqual(t, http.StatusNotFound, rec.Code)
	if rec.Code == http.StatusOK {
		assert.Contains(t, rec.Body.String(), SettingFeedRate)
	}
}
