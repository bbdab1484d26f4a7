package wal

import (
	"compress/gzip"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/oddjobs/oj/internal/ojerr"
	"github.com/oddjobs/oj/internal/state"
)

// Snapshot pairs a materialized state with the WAL seq it is consistent
// through.
type Snapshot struct {
	Seq   uint64      `json:"seq"`
	State *state.State `json:"state"`
}

// CheckpointSync atomically writes a gzip-compressed snapshot to path: the
// new content is written to a temp file in the same directory, fsynced, then
// renamed over the old snapshot so a crash mid-write never corrupts it.
func CheckpointSync(path string, seq uint64, st *state.State) error {
	st.RLock()
	data, err := json.Marshal(Snapshot{Seq: seq, State: st})
	st.RUnlock()
	if err != nil {
		return ojerr.Wrap(ojerr.CodeSnapshotWrite, "marshaling snapshot", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return ojerr.Wrap(ojerr.CodeSnapshotWrite, "creating snapshot directory", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".snapshot-*.tmp")
	if err != nil {
		return ojerr.Wrap(ojerr.CodeSnapshotWrite, "creating temp snapshot file", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	gz := gzip.NewWriter(tmp)
	if _, err := gz.Write(data); err != nil {
		tmp.Close()
		return ojerr.Wrap(ojerr.CodeSnapshotWrite, "writing compressed snapshot", err)
	}
	if err := gz.Close(); err != nil {
		tmp.Close()
		return ojerr.Wrap(ojerr.CodeSnapshotWrite, "closing gzip writer", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return ojerr.Wrap(ojerr.CodeSnapshotWrite, "fsyncing temp snapshot", err)
	}
	if err := tmp.Close(); err != nil {
		return ojerr.Wrap(ojerr.CodeSnapshotWrite, "closing temp snapshot", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return ojerr.Wrap(ojerr.CodeSnapshotWrite, "renaming snapshot into place", err)
	}
	return nil
}

// LoadSnapshot reads a snapshot written by CheckpointSync. It returns
// (nil, nil) if no snapshot file exists, matching the spec's
// Option<{seq,state}> contract.
func LoadSnapshot(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, ojerr.Wrap(ojerr.CodeSnapshotRead, "opening snapshot", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, ojerr.Wrap(ojerr.CodeSnapshotRead, "decompressing snapshot", err)
	}
	defer gz.Close()

	var snap Snapshot
	snap.State = state.New()
	if err := json.NewDecoder(gz).Decode(&snap); err != nil {
		return nil, ojerr.Wrap(ojerr.CodeSnapshotRead, "decoding snapshot", err)
	}
	snap.State.RebuildQueueIndex()
	return &snap, nil
}
