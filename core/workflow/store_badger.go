package workflow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v3"
	json "github.com/goccy/go-json"
	"github.com/hashicorp/go-hclog"

	"github.com/cordum/flowline/core/infra/logging"
)

const (
	badgerConflictRetries = 10
	badgerSeqBandwidth    = 256
)

var (
	prefixWorkflow  = []byte("wf/def/")
	prefixExecution = []byte("ex/rec/")
	prefixWfExec    = []byte("ex/wf/")
	prefixNode      = []byte("nd/rec/")
	prefixExecNode  = []byte("nd/ex/")
	keyNodeSeq      = []byte("seq/node")
)

// BadgerStore is an embedded, durable Store on BadgerDB.
type BadgerStore struct {
	db  *badger.DB
	seq *badger.Sequence
}

type badgerOptions struct {
	inMemory bool
}

// BadgerOption tunes the embedded database.
type BadgerOption func(*badgerOptions)

// WithInMemory keeps all data in memory; dir is ignored.
func WithInMemory() BadgerOption {
	return func(o *badgerOptions) { o.inMemory = true }
}

// NewBadgerStore opens (or creates) a store under dir.
func NewBadgerStore(dir string, opts ...BadgerOption) (*BadgerStore, error) {
	var o badgerOptions
	for _, opt := range opts {
		opt(&o)
	}
	bopts := badger.DefaultOptions(dir)
	if o.inMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("badger dir required")
	}
	bopts = bopts.WithLogger(&badgerLogger{logger: logging.Named("badger")})
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	seq, err := db.GetSequence(keyNodeSeq, badgerSeqBandwidth)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("badger sequence: %w", err)
	}
	return &BadgerStore{db: db, seq: seq}, nil
}

// Close releases the node sequence and closes the database.
func (s *BadgerStore) Close() error {
	var errs []error
	if s.seq != nil {
		errs = append(errs, s.seq.Release())
	}
	errs = append(errs, s.db.Close())
	return errors.Join(errs...)
}

func (s *BadgerStore) CreateWorkflow(_ context.Context, wf *Workflow) error {
	if wf == nil {
		return fmt.Errorf("workflow required")
	}
	if err := requireID("workflow", wf.ID); err != nil {
		return err
	}
	return s.update(func(txn *badger.Txn) error {
		return putJSON(txn, bkey(prefixWorkflow, wf.ID), wf)
	})
}

func (s *BadgerStore) GetWorkflow(_ context.Context, id string) (*Workflow, error) {
	var wf Workflow
	err := s.db.View(func(txn *badger.Txn) error {
		return readJSON(txn, bkey(prefixWorkflow, id), "workflow", id, &wf)
	})
	if err != nil {
		return nil, err
	}
	return &wf, nil
}

func (s *BadgerStore) ListWorkflows(_ context.Context) ([]*Workflow, error) {
	var out []*Workflow
	err := s.db.View(func(txn *badger.Txn) error {
		return scanValues(txn, prefixWorkflow, func(val []byte) error {
			var wf Workflow
			if err := json.Unmarshal(val, &wf); err != nil {
				return fmt.Errorf("unmarshal workflow: %w", err)
			}
			out = append(out, &wf)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *BadgerStore) UpdateWorkflow(_ context.Context, id string, patch WorkflowPatch) (*Workflow, error) {
	var wf Workflow
	err := s.update(func(txn *badger.Txn) error {
		wf = Workflow{}
		k := bkey(prefixWorkflow, id)
		if err := readJSON(txn, k, "workflow", id, &wf); err != nil {
			return err
		}
		applyWorkflowPatch(&wf, patch, time.Now().UTC())
		return putJSON(txn, k, &wf)
	})
	if err != nil {
		return nil, err
	}
	return &wf, nil
}

// DeleteWorkflow removes the workflow with its executions and node records.
func (s *BadgerStore) DeleteWorkflow(_ context.Context, id string) error {
	return s.update(func(txn *badger.Txn) error {
		k := bkey(prefixWorkflow, id)
		if _, err := txn.Get(k); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("workflow %s: %w", id, ErrNotFound)
			}
			return err
		}
		execIDs, err := scanSuffixes(txn, bkey(prefixWfExec, id+"/"))
		if err != nil {
			return err
		}
		for _, execID := range execIDs {
			if err := deleteExecutionTxn(txn, execID, id); err != nil {
				return err
			}
		}
		return txn.Delete(k)
	})
}

func (s *BadgerStore) CreateExecution(_ context.Context, exec *WorkflowExecution) error {
	if exec == nil {
		return fmt.Errorf("execution required")
	}
	if err := requireID("execution", exec.ID); err != nil {
		return err
	}
	return s.update(func(txn *badger.Txn) error {
		if err := putJSON(txn, bkey(prefixExecution, exec.ID), exec); err != nil {
			return err
		}
		return txn.Set(bkey(prefixWfExec, exec.WorkflowID+"/"+exec.ID), nil)
	})
}

func (s *BadgerStore) GetExecution(_ context.Context, id string) (*WorkflowExecution, error) {
	var exec WorkflowExecution
	err := s.db.View(func(txn *badger.Txn) error {
		return readJSON(txn, bkey(prefixExecution, id), "execution", id, &exec)
	})
	if err != nil {
		return nil, err
	}
	return &exec, nil
}

func (s *BadgerStore) UpdateExecution(_ context.Context, id string, patch ExecutionPatch) (*WorkflowExecution, error) {
	var exec WorkflowExecution
	err := s.update(func(txn *badger.Txn) error {
		exec = WorkflowExecution{}
		k := bkey(prefixExecution, id)
		if err := readJSON(txn, k, "execution", id, &exec); err != nil {
			return err
		}
		if err := applyExecutionPatch(&exec, patch); err != nil {
			return err
		}
		return putJSON(txn, k, &exec)
	})
	if err != nil {
		return nil, err
	}
	return &exec, nil
}

func (s *BadgerStore) DeleteExecution(_ context.Context, id string) error {
	return s.update(func(txn *badger.Txn) error {
		var exec WorkflowExecution
		if err := readJSON(txn, bkey(prefixExecution, id), "execution", id, &exec); err != nil {
			return err
		}
		return deleteExecutionTxn(txn, id, exec.WorkflowID)
	})
}

func deleteExecutionTxn(txn *badger.Txn, id, workflowID string) error {
	nodeKeys, err := scanKeys(txn, bkey(prefixExecNode, id+"/"))
	if err != nil {
		return err
	}
	for _, nk := range nodeKeys {
		item, err := txn.Get(nk)
		if err != nil {
			return err
		}
		nodeID, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := txn.Delete(bkey(prefixNode, string(nodeID))); err != nil {
			return err
		}
		if err := txn.Delete(nk); err != nil {
			return err
		}
	}
	if err := txn.Delete(bkey(prefixWfExec, workflowID+"/"+id)); err != nil {
		return err
	}
	return txn.Delete(bkey(prefixExecution, id))
}

func (s *BadgerStore) ListRecentExecutions(_ context.Context, limit int) ([]*WorkflowExecution, error) {
	var out []*WorkflowExecution
	err := s.db.View(func(txn *badger.Txn) error {
		return scanValues(txn, prefixExecution, func(val []byte) error {
			var exec WorkflowExecution
			if err := json.Unmarshal(val, &exec); err != nil {
				return fmt.Errorf("unmarshal execution: %w", err)
			}
			out = append(out, &exec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return newest(out, recentLimit(limit)), nil
}

func (s *BadgerStore) ListExecutionsByWorkflow(_ context.Context, workflowID string, limit int) ([]*WorkflowExecution, error) {
	var out []*WorkflowExecution
	err := s.db.View(func(txn *badger.Txn) error {
		ids, err := scanSuffixes(txn, bkey(prefixWfExec, workflowID+"/"))
		if err != nil {
			return err
		}
		for _, id := range ids {
			var exec WorkflowExecution
			if err := readJSON(txn, bkey(prefixExecution, id), "execution", id, &exec); err != nil {
				if errors.Is(err, ErrNotFound) {
					continue
				}
				return err
			}
			out = append(out, &exec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return newest(out, limit), nil
}

func newest(out []*WorkflowExecution, limit int) []*WorkflowExecution {
	sortExecutionsNewest(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	if out == nil {
		out = []*WorkflowExecution{}
	}
	return out
}

func (s *BadgerStore) CreateNodeExecution(_ context.Context, rec *NodeExecution) error {
	if rec == nil {
		return fmt.Errorf("node execution required")
	}
	if err := requireID("node execution", rec.ID); err != nil {
		return err
	}
	n, err := s.seq.Next()
	if err != nil {
		return fmt.Errorf("node sequence: %w", err)
	}
	return s.update(func(txn *badger.Txn) error {
		if err := putJSON(txn, bkey(prefixNode, rec.ID), rec); err != nil {
			return err
		}
		return txn.Set(bkey(prefixExecNode, fmt.Sprintf("%s/%020d", rec.ExecutionID, n)), []byte(rec.ID))
	})
}

func (s *BadgerStore) UpdateNodeExecution(_ context.Context, id string, patch NodeExecutionPatch) (*NodeExecution, error) {
	var rec NodeExecution
	err := s.update(func(txn *badger.Txn) error {
		rec = NodeExecution{}
		k := bkey(prefixNode, id)
		if err := readJSON(txn, k, "node execution", id, &rec); err != nil {
			return err
		}
		applyNodePatch(&rec, patch)
		return putJSON(txn, k, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListNodeExecutions returns records in creation order; the index keys carry
// a zero-padded sequence so key order is insertion order.
func (s *BadgerStore) ListNodeExecutions(_ context.Context, executionID string) ([]*NodeExecution, error) {
	out := []*NodeExecution{}
	err := s.db.View(func(txn *badger.Txn) error {
		return scanValues(txn, bkey(prefixExecNode, executionID+"/"), func(val []byte) error {
			id := string(val)
			var rec NodeExecution
			if err := readJSON(txn, bkey(prefixNode, id), "node execution", id, &rec); err != nil {
				if errors.Is(err, ErrNotFound) {
					return nil
				}
				return err
			}
			out = append(out, &rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// update retries fn when badger reports a write conflict.
func (s *BadgerStore) update(fn func(txn *badger.Txn) error) error {
	var err error
	for i := 0; i < badgerConflictRetries; i++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func bkey(prefix []byte, id string) []byte {
	out := make([]byte, 0, len(prefix)+len(id))
	out = append(out, prefix...)
	return append(out, id...)
}

func putJSON(txn *badger.Txn, k []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return txn.Set(k, data)
}

func readJSON(txn *badger.Txn, k []byte, kind, id string, out any) error {
	if id == "" {
		return fmt.Errorf("%s id required", kind)
	}
	item, err := txn.Get(k)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		if err := json.Unmarshal(val, out); err != nil {
			return fmt.Errorf("unmarshal %s: %w", kind, err)
		}
		return nil
	})
}

func scanValues(txn *badger.Txn, prefix []byte, fn func(val []byte) error) error {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		val, err := it.Item().ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := fn(val); err != nil {
			return err
		}
	}
	return nil
}

func scanKeys(txn *badger.Txn, prefix []byte) ([][]byte, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()
	var out [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		out = append(out, it.Item().KeyCopy(nil))
	}
	return out, nil
}

func scanSuffixes(txn *badger.Txn, prefix []byte) ([]string, error) {
	keys, err := scanKeys(txn, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, string(bytes.TrimPrefix(k, prefix)))
	}
	return out, nil
}

// badgerLogger routes badger's printf logging into hclog.
type badgerLogger struct {
	logger hclog.Logger
}

func (l *badgerLogger) Errorf(f string, v ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(f, v...)))
}

func (l *badgerLogger) Warningf(f string, v ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(f, v...)))
}

func (l *badgerLogger) Infof(f string, v ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(f, v...)))
}

func (l *badgerLogger) Debugf(f string, v ...interface{}) {
	l.logger.Trace(strings.TrimSpace(fmt.Sprintf(f, v...)))
}
