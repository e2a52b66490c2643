package repository

import (
	"encoding/json"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"

	"github.com/Tuditi/pbsgraph/db"
	"github.com/Tuditi/pbsgraph/models"
)

// It abstracts the storage layer from the scheduling logic
type ResultRepositoryInterface interface {
	PutResults(runID string, results map[int][]byte) error
	GetResult(runID string, index int) ([]byte, error)
	PutCheckpoint(cp *models.Checkpoint) error
	GetLatestCheckpoint(runID string) (*models.Checkpoint, error)
}

// ResultRepository implements ResultRepositoryInterface using LevelDB as
// the storage backend. Computed node ciphertexts are keyed by run and node
// index, checkpoints by run and timestamp.
type ResultRepository struct {
	db *db.LevelDB
}

// NewResultRepository creates and returns a new ResultRepository instance
func NewResultRepository(db *db.LevelDB) *ResultRepository {
	return &ResultRepository{db: db}
}

func resultKey(runID string, index int) []byte {
	return []byte(fmt.Sprintf("result:%s:%012d", runID, index))
}

func checkpointPrefix(runID string) []byte {
	return []byte("checkpoint:" + runID + ":")
}

// PutResults stores the serialized ciphertexts of computed nodes in one
// atomic batch
func (r *ResultRepository) PutResults(runID string, results map[int][]byte) error {
	batch := new(leveldb.Batch)
	for index, ct := range results {
		batch.Put(resultKey(runID, index), ct)
	}
	return r.db.WriteBatch(batch)
}

// GetResult retrieves one computed node's ciphertext bytes
func (r *ResultRepository) GetResult(runID string, index int) ([]byte, error) {
	return r.db.Get(resultKey(runID, index))
}

// PutCheckpoint stores a progress checkpoint for a run
func (r *ResultRepository) PutCheckpoint(cp *models.Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("checkpoint:%s:%020d", cp.RunID, cp.Timestamp)
	return r.db.Put([]byte(key), data)
}

// GetLatestCheckpoint retrieves the most recent checkpoint of a run
func (r *ResultRepository) GetLatestCheckpoint(runID string) (*models.Checkpoint, error) {
	iter := r.db.NewPrefixIterator(checkpointPrefix(runID))
	defer iter.Release()

	var latest *models.Checkpoint
	for iter.Next() {
		var cp models.Checkpoint
		if err := json.Unmarshal(iter.Value(), &cp); err != nil {
			return nil, err
		}
		if latest == nil || cp.Timestamp > latest.Timestamp {
			latest = &cp
		}
	}
	return latest, iter.Error()
}
