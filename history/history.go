// Package history keeps the outcome of past suite runs in a bbolt database.
package history

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/ethereum-optimism/infra/op-dispval/types"
)

var (
	runsBucket = []byte("runs")

	// ErrNoRuns is returned when no run was stored for a selector
	ErrNoRuns = errors.New("no previous run")
)

// CaseRun is the stored outcome of one case
type CaseRun struct {
	Number   int              `json:"number"`
	Code     types.ResultCode `json:"code"`
	Message  string           `json:"message,omitempty"`
	Duration time.Duration    `json:"duration"`
}

// Run is the stored outcome of one suite invocation
type Run struct {
	ID       string           `json:"id"`
	Selector string           `json:"selector"`
	Title    string           `json:"title"`
	Code     types.ResultCode `json:"code"`
	Aborted  bool             `json:"aborted,omitempty"`
	Started  time.Time        `json:"started"`
	Duration time.Duration    `json:"duration"`
	Cases    []CaseRun        `json:"cases"`
}

// NewRun converts a suite outcome to its stored form
func NewRun(o *types.SuiteOutcome) Run {
	run := Run{
		ID:       o.RunID,
		Selector: o.Selector,
		Title:    o.Title,
		Code:     o.Code,
		Aborted:  o.Aborted,
		Started:  o.Started,
		Duration: o.Duration,
		Cases:    make([]CaseRun, 0, len(o.Cases)),
	}
	for _, c := range o.Cases {
		run.Cases = append(run.Cases, CaseRun{
			Number:   c.Case.Number,
			Code:     c.Code,
			Message:  c.Message,
			Duration: c.Duration,
		})
	}
	return run
}

// Store holds one bucket of runs per selector, keyed by insertion sequence
type Store struct {
	db *bolt.DB
	mu sync.RWMutex
}

// Open opens or creates the history database at path
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open history db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(runsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create runs bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Record appends the outcome to the runs of its selector
func (s *Store) Record(o *types.SuiteOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(NewRun(o))
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(runsBucket).CreateBucketIfNotExists([]byte(o.Selector))
		if err != nil {
			return fmt.Errorf("failed to create bucket for %q: %w", o.Selector, err)
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(sequenceKey(seq), data)
	})
}

// Last returns the most recently recorded run for selector
func (s *Store) Last(selector string) (Run, error) {
	runs, err := s.List(selector, 1)
	if err != nil {
		return Run{}, err
	}
	if len(runs) == 0 {
		return Run{}, ErrNoRuns
	}
	return runs[0], nil
}

// List returns up to limit runs for selector, newest first. A limit of 0 returns all of them.
func (s *Store) List(selector string, limit int) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var runs []Run
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(runsBucket).Bucket([]byte(selector))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var run Run
			if err := json.Unmarshal(v, &run); err != nil {
				return fmt.Errorf("failed to unmarshal run %d: %w", binary.BigEndian.Uint64(k), err)
			}
			runs = append(runs, run)
			if limit > 0 && len(runs) == limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return runs, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func sequenceKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}
