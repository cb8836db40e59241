// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package queue is the Redis-backed task queue for webhook deliveries.
// Immediate tasks ride a list; delayed retries wait in a sorted set scored
// by their ready time, and a promoter moves due tasks onto the list. Tasks
// carry no ordering guarantee, even among deliveries for one event.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agentpost/courier/internal/models"
)

// scheduledSuffix names the delayed sorted set next to the main list.
const scheduledSuffix = ":scheduled"

// Queue holds webhook delivery tasks in Redis.
type Queue struct {
	rdb  *redis.Client
	name string
}

// New creates a queue on the given Redis list name.
func New(rdb *redis.Client, name string) *Queue {
	return &Queue{rdb: rdb, name: name}
}

// Schedule enqueues a task for immediate delivery.
func (q *Queue) Schedule(ctx context.Context, task models.DeliveryTask) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal delivery task: %w", err)
	}

	if err := q.rdb.LPush(ctx, q.name, body).Err(); err != nil {
		return fmt.Errorf("redis LPUSH: %w", err)
	}

	slog.Debug("delivery task queued",
		"task_id", task.ID,
		"event_id", task.EventID,
		"queue", q.name,
	)
	return nil
}

// ScheduleAfter parks a task in the delayed set until delay has elapsed.
// The delivery worker uses this for backoff retries.
func (q *Queue) ScheduleAfter(ctx context.Context, task models.DeliveryTask, delay time.Duration) error {
	if delay <= 0 {
		return q.Schedule(ctx, task)
	}

	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal delivery task: %w", err)
	}

	readyAt := float64(time.Now().Add(delay).UnixMilli())
	if err := q.rdb.ZAdd(ctx, q.name+scheduledSuffix, redis.Z{Score: readyAt, Member: body}).Err(); err != nil {
		return fmt.Errorf("redis ZADD: %w", err)
	}

	slog.Debug("delivery task scheduled",
		"task_id", task.ID,
		"event_id", task.EventID,
		"attempt", task.Attempt,
		"delay", delay,
	)
	return nil
}

// PromoteDue moves tasks whose ready time has passed from the delayed set
// onto the main list. Returns the number of tasks promoted.
func (q *Queue) PromoteDue(ctx context.Context) (int, error) {
	now := fmt.Sprintf("%d", time.Now().UnixMilli())

	due, err := q.rdb.ZRangeByScore(ctx, q.name+scheduledSuffix, &redis.ZRangeBy{
		Min: "-inf",
		Max: now,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("redis ZRANGEBYSCORE: %w", err)
	}
	if len(due) == 0 {
		return 0, nil
	}

	promoted := 0
	for _, member := range due {
		// ZREM first so a concurrent promoter cannot double-deliver
		removed, err := q.rdb.ZRem(ctx, q.name+scheduledSuffix, member).Result()
		if err != nil {
			return promoted, fmt.Errorf("redis ZREM: %w", err)
		}
		if removed == 0 {
			continue
		}
		if err := q.rdb.LPush(ctx, q.name, member).Err(); err != nil {
			return promoted, fmt.Errorf("redis LPUSH: %w", err)
		}
		promoted++
	}

	return promoted, nil
}

// Dequeue blocks for up to timeout waiting for a task. Returns (nil, nil)
// when the wait times out with nothing available.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*models.DeliveryTask, error) {
	res, err := q.rdb.BRPop(ctx, timeout, q.name).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis BRPOP: %w", err)
	}

	// BRPop returns [key, value]
	var task models.DeliveryTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		return nil, fmt.Errorf("unmarshal delivery task: %w", err)
	}
	return &task, nil
}

// Ping checks the Redis connection.
func (q *Queue) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return q.rdb.Ping(ctx).Err()
}
