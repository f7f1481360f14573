package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/loykin/autosd/internal/history"
	"github.com/loykin/autosd/internal/metrics"
	"github.com/spf13/afero"
)

const (
	backupSuffix = ".bak"
	tempSuffix   = ".tmp"

	noticeRestoredFromBackup = "State file corruption was detected and the last good backup (.bak) was restored. Please review the current schedule."
	noticeResetToDefaults    = "State file corruption was detected and the state was reset to defaults. The previous schedule was not restored for safety."
)

// StateIntegrityError reports a state file that could not be read or
// quarantined. It is never fatal: Load still returns a usable outcome.
type StateIntegrityError struct {
	Op   string
	Path string
	Err  error
}

func (e *StateIntegrityError) Error() string {
	return fmt.Sprintf("state %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StateIntegrityError) Unwrap() error { return e.Err }

// Outcome is the result of loading the state file.
type Outcome struct {
	State *State
	// NeedsPersist is set when the loaded state differs from what is on disk.
	NeedsPersist bool
	// StartupNotice is a user-facing message about a recovery, if any.
	StartupNotice string
}

// FileStore keeps the state in one JSON file with a rotating backup.
type FileStore struct {
	fs   afero.Fs
	path string
	log  *slog.Logger
}

// NewFileStore returns a store for path on fsys. A nil fsys means the OS
// filesystem.
func NewFileStore(fsys afero.Fs, path string, log *slog.Logger) *FileStore {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	if log == nil {
		log = slog.Default()
	}
	return &FileStore{fs: fsys, path: path, log: log}
}

func (s *FileStore) Path() string       { return s.path }
func (s *FileStore) BackupPath() string { return s.path + backupSuffix }
func (s *FileStore) tempPath() string   { return s.path + tempSuffix }

// Load reads the state file. A persisted active schedule is always
// discarded. A corrupted file is quarantined and the backup is tried.
func (s *FileStore) Load(now time.Time) (Outcome, error) {
	out, err := s.load(now)
	if out.State.DiscardActive(now) {
		out.NeedsPersist = true
		s.log.Info("discarded persisted active schedule", "path", s.path)
	}
	return out, err
}

func (s *FileStore) load(now time.Time) (Outcome, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Outcome{State: NewState()}, nil
	}
	if err != nil {
		metrics.IncStateRecovery("read_failed")
		return Outcome{State: NewState()}, &StateIntegrityError{Op: "read", Path: s.path, Err: err}
	}

	p, parseErr := decode(data)
	if parseErr == nil {
		return Outcome{State: FromPersisted(p)}, nil
	}

	corrupt := s.nextCorruptPath(now)
	if err := s.fs.Rename(s.path, corrupt); err != nil {
		metrics.IncStateRecovery("quarantine_failed")
		s.log.Error("failed to quarantine corrupted state file", "path", s.path, "target", corrupt, "error", err)
		return Outcome{State: NewState()}, &StateIntegrityError{Op: "quarantine", Path: s.path, Err: err}
	}
	s.log.Warn("quarantined corrupted state file", "path", corrupt, "error", parseErr)

	reason := fmt.Sprintf("failed to parse state file: %v; quarantined at %s", parseErr, corrupt)
	st := NewState()
	restored := false
	backup, err := afero.ReadFile(s.fs, s.BackupPath())
	switch {
	case errors.Is(err, fs.ErrNotExist):
		reason += "; backup not found"
	case err != nil:
		reason += fmt.Sprintf("; backup read failed (%s): %v", s.BackupPath(), err)
	default:
		if bp, err := decode(backup); err != nil {
			reason += fmt.Sprintf("; backup parse failed (%s): %v", s.BackupPath(), err)
		} else {
			st = FromPersisted(bp)
			restored = true
		}
	}

	st.PushEvent(now, "", history.EventStateParseFailed, history.ResultError, reason)
	out := Outcome{State: st, NeedsPersist: true, StartupNotice: noticeResetToDefaults}
	if restored {
		st.PushEvent(now, "", history.EventStateRestoredFromBackup, history.ResultOK, "restored state from "+s.BackupPath())
		out.StartupNotice = noticeRestoredFromBackup
		metrics.IncStateRecovery("backup")
	} else {
		metrics.IncStateRecovery("defaults")
	}
	return out, nil
}

func decode(data []byte) (PersistedState, error) {
	var p PersistedState
	if err := json.Unmarshal(data, &p); err != nil {
		return PersistedState{}, err
	}
	return p, nil
}

func (s *FileStore) nextCorruptPath(now time.Time) string {
	base := s.path + ".corrupt-" + strconv.FormatInt(now.UnixMilli(), 10)
	candidate := base
	for i := 1; ; i++ {
		if ok, _ := afero.Exists(s.fs, candidate); !ok {
			return candidate
		}
		candidate = base + "-" + strconv.Itoa(i)
	}
}

// Persist writes st atomically. The previous file becomes the backup.
func (s *FileStore) Persist(st *State) error {
	if dir := filepath.Dir(s.path); dir != "" {
		if err := s.fs.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create state directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(st.ToPersisted(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := s.writeTemp(data); err != nil {
		_ = s.fs.Remove(s.tempPath())
		return err
	}

	hadLive, _ := afero.Exists(s.fs, s.path)
	if hadLive {
		if ok, _ := afero.Exists(s.fs, s.BackupPath()); ok {
			if err := s.fs.Remove(s.BackupPath()); err != nil {
				_ = s.fs.Remove(s.tempPath())
				return fmt.Errorf("remove previous backup: %w", err)
			}
		}
		if err := s.fs.Rename(s.path, s.BackupPath()); err != nil {
			_ = s.fs.Remove(s.tempPath())
			return fmt.Errorf("rotate state file to backup: %w", err)
		}
	}

	if err := s.fs.Rename(s.tempPath(), s.path); err != nil {
		_ = s.fs.Remove(s.tempPath())
		if hadLive {
			if live, _ := afero.Exists(s.fs, s.path); !live {
				if rerr := s.fs.Rename(s.BackupPath(), s.path); rerr != nil {
					s.log.Error("failed to restore state file from backup", "error", rerr)
				}
			}
		}
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

func (s *FileStore) writeTemp(data []byte) error {
	f, err := s.fs.OpenFile(s.tempPath(), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync temp state file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}
	return nil
}
