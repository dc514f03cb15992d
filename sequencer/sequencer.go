package sequencer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	ds "github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/query"
	tmjson "github.com/tendermint/tendermint/libs/json"
	"github.com/tendermint/tendermint/libs/log"

	"github.com/rollkit/rollcore/store"
	"github.com/rollkit/rollcore/types"
)

// ErrSequencerClosed is returned by Submit after Stop.
var ErrSequencerClosed = errors.New("sequencer closed")

// DefaultQueueSize is used when the configured size is zero.
const DefaultQueueSize = 1 << 16

const walPrefix = "wal"

// Submission is a transaction accepted by the sequencer. KeyBytes is opaque signing key
// material handed through to execution.
type Submission struct {
	Seq         uint64             `json:"seq"`
	Transaction *types.Transaction `json:"transaction"`
	KeyBytes    []byte             `json:"key_bytes,omitempty"`
}

// Hash returns the transaction id of the submission.
func (s *Submission) Hash() types.Hash {
	return s.Transaction.Hash()
}

// Sequencer orders submissions. Accepted submissions are written to a write-ahead log
// before delivery and stay there until acknowledged.
type Sequencer struct {
	out     chan *Submission
	db      ds.Batching
	logger  log.Logger
	metrics *Metrics

	// turn serialises Submit so that sequence numbers follow delivery order
	turn chan struct{}
	next uint64

	stopOnce sync.Once
	closed   chan struct{}
}

// NewSequencer creates a sequencer delivering through a queue of the given size.
func NewSequencer(db ds.Batching, queueSize int, logger log.Logger, metrics *Metrics) *Sequencer {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if metrics == nil {
		metrics = NopMetrics()
	}
	return &Sequencer{
		out:     make(chan *Submission, queueSize),
		db:      store.NewPrefixKV(db, walPrefix),
		logger:  logger,
		metrics: metrics,
		turn:    make(chan struct{}, 1),
		closed:  make(chan struct{}),
	}
}

func walKey(seq uint64) ds.Key {
	return ds.NewKey(fmt.Sprintf("%016x", seq))
}

// Submit enqueues tx and returns its hash. It blocks while the queue is full, until ctx
// is done or the sequencer stops.
func (s *Sequencer) Submit(ctx context.Context, tx *types.Transaction, keyBytes []byte) (types.Hash, error) {
	if tx == nil {
		s.metrics.Rejected.Add(1)
		return types.Hash{}, fmt.Errorf("%w: nil transaction", types.ErrInvalidTransaction)
	}
	if err := tx.ValidateBasic(); err != nil {
		s.metrics.Rejected.Add(1)
		return types.Hash{}, err
	}

	select {
	case s.turn <- struct{}{}:
	case <-ctx.Done():
		return types.Hash{}, ctx.Err()
	case <-s.closed:
		return types.Hash{}, ErrSequencerClosed
	}
	defer func() { <-s.turn }()

	sub := &Submission{Seq: s.next, Transaction: tx, KeyBytes: keyBytes}
	bz, err := tmjson.Marshal(sub)
	if err != nil {
		return types.Hash{}, err
	}
	if err := s.db.Put(ctx, walKey(sub.Seq), bz); err != nil {
		return types.Hash{}, fmt.Errorf("failed to write submission: %w", err)
	}

	select {
	case s.out <- sub:
	case <-ctx.Done():
		s.forget(sub.Seq)
		return types.Hash{}, ctx.Err()
	case <-s.closed:
		s.forget(sub.Seq)
		return types.Hash{}, ErrSequencerClosed
	}
	s.next++
	s.metrics.Submitted.Add(1)
	s.metrics.Pending.Add(1)
	return sub.Hash(), nil
}

func (s *Sequencer) forget(seq uint64) {
	if err := s.db.Delete(context.Background(), walKey(seq)); err != nil {
		s.logger.Error("failed to delete abandoned submission", "seq", seq, "error", err)
	}
}

// Next returns the delivery channel. Submissions arrive in sequence order.
func (s *Sequencer) Next() <-chan *Submission {
	return s.out
}

// Done is closed once the sequencer stops.
func (s *Sequencer) Done() <-chan struct{} {
	return s.closed
}

// Ack removes a processed submission from the write-ahead log.
func (s *Sequencer) Ack(ctx context.Context, seq uint64) error {
	if err := s.db.Delete(ctx, walKey(seq)); err != nil {
		return fmt.Errorf("failed to ack submission %d: %w", seq, err)
	}
	s.metrics.Pending.Add(-1)
	return nil
}

// LoadFromDB returns the submissions left unacknowledged by a previous run, in sequence
// order, and continues numbering after them. It must be called before the first Submit.
func (s *Sequencer) LoadFromDB(ctx context.Context) ([]*Submission, error) {
	results, err := s.db.Query(ctx, query.Query{Orders: []query.Order{query.OrderByKey{}}})
	if err != nil {
		return nil, fmt.Errorf("error querying datastore: %w", err)
	}
	defer results.Close()

	var pending []*Submission
	for result := range results.Next() {
		if result.Error != nil {
			return nil, result.Error
		}
		sub := new(Submission)
		if err := tmjson.Unmarshal(result.Value, sub); err != nil {
			s.logger.Error("skipping undecodable submission", "key", result.Key, "error", err)
			continue
		}
		pending = append(pending, sub)
		if sub.Seq >= s.next {
			s.next = sub.Seq + 1
		}
	}
	if len(pending) > 0 {
		s.logger.Info("replaying pending submissions", "count", len(pending))
	}
	s.metrics.Pending.Set(float64(len(pending)))
	return pending, nil
}

// Stop rejects further submissions. Already queued submissions stay readable from Next.
func (s *Sequencer) Stop() {
	s.stopOnce.Do(func() { close(s.closed) })
}
