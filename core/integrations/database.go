package integrations

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"dario.cat/mergo"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/cordum/flowline/core/workflow"
)

const (
	tablePrefix  = "flowline:db:"
	scanPageSize = 200
)

// Database stores JSON records in one Redis hash per table. The record key
// is the hash field.
type Database struct {
	client redis.UniversalClient
}

func NewDatabase(client redis.UniversalClient) *Database {
	return &Database{client: client}
}

func tableKey(table string) string {
	return tablePrefix + table
}

func (d *Database) Handle(ctx context.Context, config, _ map[string]any) (map[string]any, error) {
	var cfg workflow.DatabaseConfig
	if err := workflow.DecodeConfig(config, &cfg); err != nil {
		return nil, fmt.Errorf("decode database config: %w", err)
	}
	op := strings.ToLower(strings.TrimSpace(cfg.Operation))
	switch op {
	case "query", "insert", "update", "delete":
	default:
		return reject("Unsupported database operation", "")
	}
	if d.client == nil {
		return fail("database integration not configured", "error")
	}
	table := strings.TrimSpace(cfg.Table)
	if table == "" {
		return reject("table is required", "failed")
	}
	switch op {
	case "query":
		return d.query(ctx, table, cfg)
	case "insert":
		return d.insert(ctx, table, cfg)
	case "update":
		return d.update(ctx, table, cfg)
	default:
		return d.remove(ctx, table, cfg)
	}
}

func (d *Database) query(ctx context.Context, table string, cfg workflow.DatabaseConfig) (map[string]any, error) {
	key := tableKey(table)
	results := []any{}
	if cfg.Key != "" {
		raw, err := d.client.HGet(ctx, key, cfg.Key).Result()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return fail(fmt.Sprintf("query %s: %v", table, err), "error")
		default:
			results = append(results, decodeRecord(cfg.Key, raw))
		}
	} else {
		pattern := strings.TrimSpace(cfg.Query)
		if pattern == "" {
			pattern = "*"
		}
		rows := map[string]string{}
		iter := d.client.HScan(ctx, key, 0, pattern, scanPageSize).Iterator()
		for iter.Next(ctx) {
			field := iter.Val()
			if !iter.Next(ctx) {
				break
			}
			rows[field] = iter.Val()
		}
		if err := iter.Err(); err != nil {
			return fail(fmt.Sprintf("query %s: %v", table, err), "error")
		}
		fields := make([]string, 0, len(rows))
		for f := range rows {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		for _, f := range fields {
			results = append(results, decodeRecord(f, rows[f]))
		}
	}
	return map[string]any{
		"success": true,
		"message": "Query executed successfully",
		"results": results,
		"count":   len(results),
	}, nil
}

func (d *Database) insert(ctx context.Context, table string, cfg workflow.DatabaseConfig) (map[string]any, error) {
	record, err := recordData(cfg.Data)
	if err != nil {
		return reject(err.Error(), "failed")
	}
	id := cfg.Key
	if id == "" {
		id = uuid.NewString()
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return fail(fmt.Sprintf("encode record: %v", err), "error")
	}
	created, err := d.client.HSetNX(ctx, tableKey(table), id, payload).Result()
	if err != nil {
		return fail(fmt.Sprintf("insert into %s: %v", table, err), "error")
	}
	if !created {
		return reject(fmt.Sprintf("record %s already exists in %s", id, table), "failed")
	}
	return map[string]any{
		"success":  true,
		"message":  "Data inserted successfully",
		"insertId": id,
	}, nil
}

func (d *Database) update(ctx context.Context, table string, cfg workflow.DatabaseConfig) (map[string]any, error) {
	if cfg.Key == "" {
		return reject("key is required", "failed")
	}
	patch, err := recordData(cfg.Data)
	if err != nil {
		return reject(err.Error(), "failed")
	}
	key := tableKey(table)
	affected := 0
	err = d.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, key, cfg.Key).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		current := map[string]any{}
		if err := json.Unmarshal([]byte(raw), &current); err != nil {
			current = map[string]any{}
		}
		if err := mergo.Merge(&current, patch, mergo.WithOverride); err != nil {
			return fmt.Errorf("merge record: %w", err)
		}
		payload, err := json.Marshal(current)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, key, cfg.Key, payload)
			return nil
		})
		if err == nil {
			affected = 1
		}
		return err
	}, key)
	if err != nil {
		return fail(fmt.Sprintf("update %s: %v", table, err), "error")
	}
	return map[string]any{
		"success":      true,
		"message":      "Data updated successfully",
		"affectedRows": affected,
	}, nil
}

func (d *Database) remove(ctx context.Context, table string, cfg workflow.DatabaseConfig) (map[string]any, error) {
	if cfg.Key == "" {
		return reject("key is required", "failed")
	}
	n, err := d.client.HDel(ctx, tableKey(table), cfg.Key).Result()
	if err != nil {
		return fail(fmt.Sprintf("delete from %s: %v", table, err), "error")
	}
	return map[string]any{
		"success":      true,
		"message":      "Data deleted successfully",
		"affectedRows": int(n),
	}, nil
}

// recordData accepts an object or its JSON text.
func recordData(raw any) (map[string]any, error) {
	switch v := raw.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return v, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return map[string]any{}, nil
		}
		out := map[string]any{}
		if err := json.Unmarshal([]byte(v), &out); err != nil {
			return nil, fmt.Errorf("data must be a JSON object: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("data must be an object, got %T", raw)
	}
}

func decodeRecord(key, raw string) map[string]any {
	rec := map[string]any{}
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		rec = map[string]any{"value": raw}
	}
	rec["_key"] = key
	return rec
}
