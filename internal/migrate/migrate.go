// Package migrate copies the sync document from one storage backend to
// another and verifies the copy by reading it back.
//
// The destination's current document can be saved aside first; backups
// are plain sync documents, so a backup can be restored by pointing a
// json provider at it.
package migrate

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"time"

	"github.com/sidesync/sidesync/internal/document"
	syncerrors "github.com/sidesync/sidesync/internal/errors"
	"github.com/sidesync/sidesync/internal/provider"
)

// DefaultBackupDir is where destination backups land unless Options
// says otherwise.
const DefaultBackupDir = "data/backup"

// Options configures a migration run.
type Options struct {
	// Backup writes the destination's current document to BackupDir
	// before it is overwritten. Nothing is written when the destination
	// holds no document yet.
	Backup bool

	// BackupDir is the backup directory. Empty means DefaultBackupDir.
	BackupDir string

	// DryRun reads the source and reports what would be copied without
	// touching the destination.
	DryRun bool

	// Logger receives progress output. Nil means a prefixed stderr
	// logger.
	Logger *log.Logger
}

// Result reports what a migration run did.
type Result struct {
	// Source and Target are the backend kinds involved.
	Source provider.Kind
	Target provider.Kind

	// Keys is the number of top-level payload keys copied.
	Keys int

	// SourceVersion is the source document version that was copied.
	// TargetVersion is the destination version after the copy, or its
	// pre-existing version on a dry run.
	SourceVersion int64
	TargetVersion int64

	// BackupPath is the backup file, empty when none was written.
	BackupPath string

	// Verified reports that the destination read back equal to the
	// source. Always false on a dry run.
	Verified bool

	// Duration is the wall time of the whole run.
	Duration time.Duration
}

// Run copies the current payload from one provider to another. The
// destination document's version advances by its own count; only the
// payload carries over. After the copy the destination is reloaded and
// compared against the source, and a mismatch fails the run with
// SYNC005.
func Run(ctx context.Context, from, to provider.Provider, opts Options) (*Result, error) {
	if from == nil || to == nil {
		return nil, syncerrors.NewConfig(syncerrors.CodeInvalidParameter, "migration needs a source and a destination provider", nil)
	}
	if from == to {
		return nil, syncerrors.NewConfig(syncerrors.CodeInvalidParameter, "source and destination are the same provider", nil)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[migrate] ", log.LstdFlags)
	}

	start := time.Now()
	result := &Result{Source: from.Kind(), Target: to.Kind()}
	logger.Printf("migrating %s -> %s", result.Source, result.Target)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := from.Load()
	if err != nil {
		return nil, err
	}
	version, err := from.Version()
	if err != nil {
		return nil, err
	}
	result.Keys = len(data)
	result.SourceVersion = version
	logger.Printf("loaded %d keys from %s (version %d)", result.Keys, result.Source, version)

	if opts.DryRun {
		if result.TargetVersion, err = to.Version(); err != nil {
			return nil, err
		}
		result.Duration = time.Since(start)
		logger.Printf("dry run, destination untouched")
		return result, nil
	}

	if opts.Backup {
		result.BackupPath, err = backupDestination(to, opts.BackupDir)
		if err != nil {
			return nil, err
		}
		if result.BackupPath != "" {
			logger.Printf("destination backed up to %s", result.BackupPath)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := to.Save(data); err != nil {
		return nil, err
	}
	if result.TargetVersion, err = to.Version(); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	copied, err := to.Load()
	if err != nil {
		return nil, err
	}
	if !reflect.DeepEqual(copied, data) {
		return nil, syncerrors.NewSync(syncerrors.CodeCorruptedData, "migrated document does not match the source", nil)
	}
	result.Verified = true
	result.Duration = time.Since(start)
	logger.Printf("verification passed, %s is at version %d", result.Target, result.TargetVersion)

	return result, nil
}

// backupDestination writes the destination's current document to dir as
// a timestamped sync document. An empty destination yields no backup
// and an empty path.
func backupDestination(to provider.Provider, dir string) (string, error) {
	version, err := to.Version()
	if err != nil {
		return "", err
	}
	if version == 0 {
		return "", nil
	}

	data, err := to.Load()
	if err != nil {
		return "", err
	}

	if dir == "" {
		dir = DefaultBackupDir
	}
	path := filepath.Join(dir, fmt.Sprintf("%s-%s.json", to.Kind(), time.Now().Format("20060102-150405")))

	doc := &document.Document{
		Timestamp: time.Now(),
		Version:   version,
		Data:      data,
	}
	if err := document.Write(path, doc); err != nil {
		return "", fmt.Errorf("failed to back up destination: %w", err)
	}
	return path, nil
}
