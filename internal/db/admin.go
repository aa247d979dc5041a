package db

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/smallsmt/internal/httputil"
	"github.com/banshee-data/smallsmt/internal/monitoring"
)

// AttachAdminRoutes mounts the settings store's debug pages under /debug/.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+filepath.Base(db.path), db.DB, &tailsql.DBOptions{
		Label: "Settings DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("settings", "Stored driver settings (JSON)", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		settings, err := db.Settings()
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		httputil.WriteJSONOK(w, settings)
	}))

	debug.Handle("backup", "Download a snapshot of the settings database", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dir, err := os.MkdirTemp("", "smallsmt-backup-")
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		defer os.RemoveAll(dir)

		name := fmt.Sprintf("backup-%d.db", time.Now().Unix())
		backupPath := filepath.Join(dir, name)
		if _, err := db.Exec("VACUUM INTO ?", backupPath); err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("Failed to create backup: %v", err))
			return
		}
		monitoring.Logf("settings backup written to %s", backupPath)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", name))
		w.Header().Set("Content-Type", "application/octet-stream")
		http.ServeFile(w, r, backupPath)
	}))
	return nil
}
