package bagel

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"graphcomputer/graph"
)

type Checkpoint struct {
	SuperStepNumber uint64
	CheckpointState map[uint64]VertexCheckpoint
	MemoryState     map[string]interface{}
	Iteration       int
}

// checkpointStore keeps the checkpoints of one job in its own sqlite file.
// Checkpoints are always gob encoded so values keep their types.
type checkpointStore struct {
	path  string
	db    *sql.DB
	codec graph.Codec
}

func openCheckpointStore(dir string, jobId string) (*checkpointStore, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	s := &checkpointStore{
		path:  filepath.Join(dir, fmt.Sprintf("checkpoints-%v.db", jobId)),
		codec: graph.GobCodec{},
	}
	db, err := s.getConnection()
	if err != nil {
		return nil, err
	}
	s.db = db
	if err := s.initializeCheckpoints(); err != nil {
		db.Close()
		return nil, err
	}
	// a job id reused after a crash must not resume from stale checkpoints
	if err := s.resetCheckpoints(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *checkpointStore) getConnection() (*sql.DB, error) {
	db, err := sql.Open("sqlite3", s.path)
	if err != nil {
		log.Printf("getConnection: database error: %v", err)
		return nil, err
	}
	return db, nil
}

func (s *checkpointStore) initializeCheckpoints() error {
	//goland:noinspection SqlDialectInspection
	const createCheckpoints string = `
	  CREATE TABLE IF NOT EXISTS checkpoints (
	  lastCheckpointNumber INTEGER NOT NULL PRIMARY KEY,
	  checkpointState BLOB NOT NULL,
	  memoryState BLOB NOT NULL,
	  iteration INTEGER NOT NULL
	  );`

	if _, err := s.db.Exec(createCheckpoints); err != nil {
		log.Printf(
			"initializeCheckpoints: Failed execute"+
				" command: %v", err,
		)
		return err
	}
	return nil
}

func (s *checkpointStore) resetCheckpoints() error {
	if _, err := s.db.Exec("delete from checkpoints"); err != nil {
		log.Printf("resetCheckpoints: Failed execute command: %v", err)
		return err
	}
	return nil
}

func (s *checkpointStore) storeCheckpoint(checkpoint Checkpoint) error {
	// clear larger checkpoints that were saved
	if _, err := s.db.Exec(
		"delete from checkpoints where lastCheckpointNumber"+
			">=?", checkpoint.SuperStepNumber,
	); err != nil {
		return errors.Wrap(err, "storeCheckpoint: failed to clear checkpoints")
	}

	state, err := s.codec.Marshal(checkpoint.CheckpointState)
	if err != nil {
		return errors.Wrap(err, "storeCheckpoint: encode error")
	}
	memory, err := s.codec.Marshal(checkpoint.MemoryState)
	if err != nil {
		return errors.Wrap(err, "storeCheckpoint: encode error")
	}

	_, err = s.db.Exec(
		"INSERT INTO checkpoints VALUES(?,?,?,?)",
		checkpoint.SuperStepNumber,
		state,
		memory,
		checkpoint.Iteration,
	)
	if err != nil {
		return errors.Wrap(err, "storeCheckpoint: error inserting into db")
	}
	return nil
}

func (s *checkpointStore) retrieveCheckpoint(superStepNumber uint64) (Checkpoint, error) {
	res := s.db.QueryRow(
		"SELECT * FROM checkpoints WHERE lastCheckpointNumber=?",
		superStepNumber,
	)
	checkpoint := Checkpoint{}
	var buf []byte
	var buf2 []byte
	if err := res.Scan(
		&checkpoint.SuperStepNumber, &buf, &buf2, &checkpoint.Iteration,
	); err != nil {
		log.Printf("retrieveCheckpoint: scan error: %v", err)
		return Checkpoint{}, err
	}

	if err := s.codec.Unmarshal(buf, &checkpoint.CheckpointState); err != nil {
		return Checkpoint{}, errors.Wrap(err, "retrieveCheckpoint: decode error")
	}
	if err := s.codec.Unmarshal(buf2, &checkpoint.MemoryState); err != nil {
		return Checkpoint{}, errors.Wrap(err, "retrieveCheckpoint: decode error")
	}
	return checkpoint, nil
}

// close closes the database and removes its file.
func (s *checkpointStore) close() error {
	if err := s.db.Close(); err != nil {
		return err
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
