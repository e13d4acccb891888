package fileops

import (
	"fmt"
	"os"
	"path/filepath"
)

// snapshotEntry holds one file's pre-apply bytes. Absent files (targets of a
// create) snapshot with present=false.
type snapshotEntry struct {
	path    string // absolute
	rel     string
	data    []byte
	present bool
	mode    os.FileMode
}

// snapshot is the in-memory restore point for one apply.
type snapshot struct {
	entries []snapshotEntry
}

func takeSnapshot(paths map[string]string) (*snapshot, error) {
	snap := &snapshot{}
	for rel, abs := range paths {
		entry := snapshotEntry{path: abs, rel: rel, mode: 0o644}
		info, err := os.Stat(abs)
		switch {
		case err == nil:
			data, err := os.ReadFile(abs)
			if err != nil {
				return nil, fmt.Errorf("snapshot %s: %w", rel, err)
			}
			entry.data = data
			entry.present = true
			entry.mode = info.Mode().Perm()
		case os.IsNotExist(err):
			// created file: restore means delete
		default:
			return nil, fmt.Errorf("snapshot %s: %w", rel, err)
		}
		snap.entries = append(snap.entries, entry)
	}
	return snap, nil
}

// restore puts every entry back, newest first. A restore failure is
// unrecoverable: the remaining entries are dumped next to their targets and
// the process aborts rather than report a half-rolled-back workspace as
// consistent.
func (s *snapshot) restore() {
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		var err error
		if e.present {
			err = writeFileAtomic(e.path, e.data, e.mode)
		} else {
			err = os.Remove(e.path)
			if os.IsNotExist(err) {
				err = nil
			}
		}
		if err != nil {
			s.dump(i)
			panic(fmt.Sprintf("fileops: rollback failed at %s: %v; snapshots dumped with %s suffix", e.rel, err, snapSuffix))
		}
	}
	s.entries = nil
}

const snapSuffix = ".millsnap"

// dump writes the not-yet-restored entries beside their targets for manual
// recovery.
func (s *snapshot) dump(upto int) {
	for i := 0; i <= upto && i < len(s.entries); i++ {
		e := s.entries[i]
		if !e.present {
			continue
		}
		_ = os.WriteFile(filepath.Join(filepath.Dir(e.path), filepath.Base(e.path)+snapSuffix), e.data, 0o644)
	}
}
