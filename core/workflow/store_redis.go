package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/cordum/flowline/core/infra/redisutil"
)

const maxWatchRetries = 5

// RedisStore persists workflows and their trace in Redis. Records are JSON
// documents; sorted sets index workflows by update time and executions by
// start time; node records are appended to a per-execution list.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore connects to url and verifies the server.
func NewRedisStore(ctx context.Context, url string) (*RedisStore, error) {
	client, err := redisutil.Connect(ctx, url)
	if err != nil {
		return nil, err
	}
	return &RedisStore{client: client}, nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Close closes the underlying Redis client.
func (s *RedisStore) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *RedisStore) CreateWorkflow(ctx context.Context, wf *Workflow) error {
	if wf == nil {
		return fmt.Errorf("workflow required")
	}
	if err := requireID("workflow", wf.ID); err != nil {
		return err
	}
	payload, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("marshal workflow: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, workflowKey(wf.ID), payload, 0)
	pipe.ZAdd(ctx, workflowIndexKey(), redis.Z{Score: score(wf.UpdatedAt), Member: wf.ID})
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	var wf Workflow
	if err := s.getJSON(ctx, workflowKey(id), "workflow", id, &wf); err != nil {
		return nil, err
	}
	return &wf, nil
}

// ListWorkflows returns every workflow, most recently updated first.
func (s *RedisStore) ListWorkflows(ctx context.Context) ([]*Workflow, error) {
	ids, err := s.client.ZRevRange(ctx, workflowIndexKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*Workflow, 0, len(ids))
	for _, raw := range s.mget(ctx, ids, workflowKey) {
		var wf Workflow
		if err := json.Unmarshal(raw, &wf); err != nil {
			continue
		}
		out = append(out, &wf)
	}
	return out, nil
}

func (s *RedisStore) UpdateWorkflow(ctx context.Context, id string, patch WorkflowPatch) (*Workflow, error) {
	var updated *Workflow
	key := workflowKey(id)
	err := s.watch(ctx, key, func(tx *redis.Tx) error {
		var wf Workflow
		if err := getJSONWith(ctx, tx, key, "workflow", id, &wf); err != nil {
			return err
		}
		applyWorkflowPatch(&wf, patch, time.Now().UTC())
		payload, err := json.Marshal(&wf)
		if err != nil {
			return fmt.Errorf("marshal workflow: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			pipe.ZAdd(ctx, workflowIndexKey(), redis.Z{Score: score(wf.UpdatedAt), Member: id})
			return nil
		})
		updated = &wf
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteWorkflow removes the workflow with its executions and node records.
func (s *RedisStore) DeleteWorkflow(ctx context.Context, id string) error {
	n, err := s.client.Exists(ctx, workflowKey(id)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("workflow %s: %w", id, ErrNotFound)
	}
	execIDs, err := s.client.ZRange(ctx, workflowExecsKey(id), 0, -1).Result()
	if err != nil {
		return err
	}
	for _, execID := range execIDs {
		if err := s.deleteExecution(ctx, execID, id); err != nil {
			return err
		}
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, workflowKey(id), workflowExecsKey(id))
	pipe.ZRem(ctx, workflowIndexKey(), id)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) CreateExecution(ctx context.Context, exec *WorkflowExecution) error {
	if exec == nil {
		return fmt.Errorf("execution required")
	}
	if err := requireID("execution", exec.ID); err != nil {
		return err
	}
	payload, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("marshal execution: %w", err)
	}
	z := redis.Z{Score: score(exec.StartedAt), Member: exec.ID}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, executionKey(exec.ID), payload, 0)
	pipe.ZAdd(ctx, executionIndexKey(), z)
	pipe.ZAdd(ctx, workflowExecsKey(exec.WorkflowID), z)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) GetExecution(ctx context.Context, id string) (*WorkflowExecution, error) {
	var exec WorkflowExecution
	if err := s.getJSON(ctx, executionKey(id), "execution", id, &exec); err != nil {
		return nil, err
	}
	return &exec, nil
}

// UpdateExecution applies patch under WATCH so a terminal status set by a
// concurrent writer is never overwritten.
func (s *RedisStore) UpdateExecution(ctx context.Context, id string, patch ExecutionPatch) (*WorkflowExecution, error) {
	var updated *WorkflowExecution
	key := executionKey(id)
	err := s.watch(ctx, key, func(tx *redis.Tx) error {
		var exec WorkflowExecution
		if err := getJSONWith(ctx, tx, key, "execution", id, &exec); err != nil {
			return err
		}
		if err := applyExecutionPatch(&exec, patch); err != nil {
			return err
		}
		payload, err := json.Marshal(&exec)
		if err != nil {
			return fmt.Errorf("marshal execution: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			return nil
		})
		updated = &exec
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *RedisStore) DeleteExecution(ctx context.Context, id string) error {
	exec, err := s.GetExecution(ctx, id)
	if err != nil {
		return err
	}
	return s.deleteExecution(ctx, id, exec.WorkflowID)
}

func (s *RedisStore) deleteExecution(ctx context.Context, id, workflowID string) error {
	nodeIDs, err := s.client.LRange(ctx, executionNodesKey(id), 0, -1).Result()
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	for _, nodeID := range nodeIDs {
		pipe.Del(ctx, nodeKey(nodeID))
	}
	pipe.Del(ctx, executionKey(id), executionNodesKey(id))
	pipe.ZRem(ctx, executionIndexKey(), id)
	pipe.ZRem(ctx, workflowExecsKey(workflowID), id)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) ListRecentExecutions(ctx context.Context, limit int) ([]*WorkflowExecution, error) {
	return s.listExecutions(ctx, executionIndexKey(), recentLimit(limit))
}

func (s *RedisStore) ListExecutionsByWorkflow(ctx context.Context, workflowID string, limit int) ([]*WorkflowExecution, error) {
	return s.listExecutions(ctx, workflowExecsKey(workflowID), limit)
}

func (s *RedisStore) listExecutions(ctx context.Context, index string, limit int) ([]*WorkflowExecution, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := s.client.ZRevRange(ctx, index, 0, stop).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*WorkflowExecution, 0, len(ids))
	for _, raw := range s.mget(ctx, ids, executionKey) {
		var exec WorkflowExecution
		if err := json.Unmarshal(raw, &exec); err != nil {
			continue
		}
		out = append(out, &exec)
	}
	sortExecutionsNewest(out)
	return out, nil
}

func (s *RedisStore) CreateNodeExecution(ctx context.Context, rec *NodeExecution) error {
	if rec == nil {
		return fmt.Errorf("node execution required")
	}
	if err := requireID("node execution", rec.ID); err != nil {
		return err
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal node execution: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, nodeKey(rec.ID), payload, 0)
	pipe.RPush(ctx, executionNodesKey(rec.ExecutionID), rec.ID)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) UpdateNodeExecution(ctx context.Context, id string, patch NodeExecutionPatch) (*NodeExecution, error) {
	var updated *NodeExecution
	key := nodeKey(id)
	err := s.watch(ctx, key, func(tx *redis.Tx) error {
		var rec NodeExecution
		if err := getJSONWith(ctx, tx, key, "node execution", id, &rec); err != nil {
			return err
		}
		applyNodePatch(&rec, patch)
		payload, err := json.Marshal(&rec)
		if err != nil {
			return fmt.Errorf("marshal node execution: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			return nil
		})
		updated = &rec
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ListNodeExecutions returns records in creation order.
func (s *RedisStore) ListNodeExecutions(ctx context.Context, executionID string) ([]*NodeExecution, error) {
	ids, err := s.client.LRange(ctx, executionNodesKey(executionID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*NodeExecution, 0, len(ids))
	for _, raw := range s.mget(ctx, ids, nodeKey) {
		var rec NodeExecution
		if err := json.Unmarshal(raw, &rec); err != nil {
			continue
		}
		out = append(out, &rec)
	}
	return out, nil
}

func (s *RedisStore) watch(ctx context.Context, key string, fn func(tx *redis.Tx) error) error {
	for i := 0; i < maxWatchRetries; i++ {
		err := s.client.Watch(ctx, fn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("update %s: too much contention", key)
}

// mget fetches documents for ids in order, skipping any that vanished.
func (s *RedisStore) mget(ctx context.Context, ids []string, keyFn func(string) string) [][]byte {
	if len(ids) == 0 {
		return nil
	}
	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, keyFn(id))
	}
	_, _ = pipe.Exec(ctx)
	out := make([][]byte, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			continue
		}
		out = append(out, data)
	}
	return out
}

func (s *RedisStore) getJSON(ctx context.Context, key, kind, id string, out any) error {
	return getJSONWith(ctx, s.client, key, kind, id, out)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func getJSONWith(ctx context.Context, c getter, key, kind, id string, out any) error {
	if id == "" {
		return fmt.Errorf("%s id required", kind)
	}
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal %s: %w", kind, err)
	}
	return nil
}

func score(t time.Time) float64 {
	return float64(t.UnixMicro())
}

func workflowKey(id string) string       { return "wf:def:" + id }
func workflowIndexKey() string           { return "wf:index:all" }
func workflowExecsKey(id string) string  { return "wf:execs:" + id }
func executionKey(id string) string      { return "wf:exec:" + id }
func executionIndexKey() string          { return "wf:exec:index" }
func executionNodesKey(id string) string { return "wf:nodes:" + id }
func nodeKey(id string) string           { return "wf:node:" + id }
