package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rohittredhu/stream-flix/internal/domain/entity"
	"github.com/rohittredhu/stream-flix/internal/domain/port"
)

// promoteBatch caps how many due delayed jobs a single claim moves back.
const promoteBatch = 100

// claimScript promotes due delayed jobs, then pops the oldest waiting job
// that still has a hash and marks it active. Running both steps in one
// script keeps the claim exclusive across any number of workers. The job
// hash name is only known after the pop, so it is built from KEYS[4], a
// prefix sharing the queue's hash tag and therefore its slot.
var claimScript = goredis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[4]))
for _, id in ipairs(due) do
  redis.call('ZREM', KEYS[2], id)
  redis.call('LPUSH', KEYS[1], id)
end
while true do
  local id = redis.call('RPOP', KEYS[1])
  if not id then
    return false
  end
  local key = KEYS[4] .. id
  if redis.call('EXISTS', key) == 1 then
    redis.call('LPUSH', KEYS[3], id)
    redis.call('HINCRBY', key, 'attempts', 1)
    redis.call('HSET', key, 'state', 'active', 'owner', ARGV[3], 'updatedAt', ARGV[2])
    return redis.call('HGETALL', key)
  end
end
`)

// claimGuard rejects updates from a consumer whose claim is no longer current.
// KEYS[1] is the job hash, ARGV[1] the attempt number the caller holds.
const claimGuard = `
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
if redis.call('HGET', KEYS[1], 'state') ~= 'active' or redis.call('HGET', KEYS[1], 'attempts') ~= ARGV[1] then
  return 0
end
`

var progressScript = goredis.NewScript(claimGuard + `
redis.call('HSET', KEYS[1], 'progress', ARGV[2], 'updatedAt', ARGV[3])
return 1
`)

var completeScript = goredis.NewScript(claimGuard + `
redis.call('LREM', KEYS[2], 1, ARGV[2])
redis.call('HSET', KEYS[1], 'state', 'completed', 'progress', '100', 'updatedAt', ARGV[3])
redis.call('HDEL', KEYS[1], 'owner')
if tonumber(ARGV[4]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[4])
end
return 1
`)

var retryScript = goredis.NewScript(claimGuard + `
redis.call('LREM', KEYS[2], 1, ARGV[2])
redis.call('HSET', KEYS[1], 'state', 'queued', 'lastError', ARGV[4], 'updatedAt', ARGV[5])
redis.call('HDEL', KEYS[1], 'owner')
redis.call('ZADD', KEYS[3], ARGV[3], ARGV[2])
return 1
`)

var failScript = goredis.NewScript(claimGuard + `
redis.call('LREM', KEYS[2], 1, ARGV[2])
redis.call('HSET', KEYS[1], 'state', 'failed', 'lastError', ARGV[3], 'updatedAt', ARGV[4])
redis.call('HDEL', KEYS[1], 'owner')
redis.call('LPUSH', KEYS[3], ARGV[2])
return 1
`)

type QueueConfig struct {
	Name string
	// Retention is how long completed jobs stay queryable. Zero keeps them.
	Retention time.Duration
}

// Queue is a port.JobQueue on Redis lists, a delayed ZSET and one hash per
// job. All keys of a queue share a hash tag, so every key a script touches
// lives in one Redis Cluster slot.
type Queue struct {
	rc        *goredis.Client
	retention time.Duration
	prefix    string
}

func NewQueue(rc *goredis.Client, cfg QueueConfig) *Queue {
	return &Queue{
		rc:        rc,
		retention: cfg.Retention,
		prefix:    "streamflix:{" + cfg.Name + "}:",
	}
}

func (q *Queue) jobKey(id string) string { return q.prefix + "job:" + id }
func (q *Queue) waitingKey() string      { return q.prefix + "waiting" }
func (q *Queue) delayedKey() string      { return q.prefix + "delayed" }
func (q *Queue) activeKey() string       { return q.prefix + "active" }
func (q *Queue) failedKey() string       { return q.prefix + "failed" }

func (q *Queue) Enqueue(ctx context.Context, kind string, payload []byte, opts entity.JobOptions) (string, error) {
	job := entity.NewJob(kind, payload, opts)
	_, err := q.rc.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, q.jobKey(job.ID), jobToHash(job))
		pipe.LPush(ctx, q.waitingKey(), job.ID)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return job.ID, nil
}

func (q *Queue) Claim(ctx context.Context, consumer string) (*entity.Job, error) {
	now := time.Now().UTC()
	res, err := claimScript.Run(ctx, q.rc,
		[]string{q.waitingKey(), q.delayedKey(), q.activeKey(), q.jobKey("")},
		now.UnixMilli(), formatTime(now), consumer, promoteBatch,
	).Slice()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return jobFromHash(pairsToMap(res))
}

func (q *Queue) Progress(ctx context.Context, job *entity.Job, percent int) error {
	return q.runGuarded(ctx, progressScript, job,
		[]string{q.jobKey(job.ID)},
		job.Attempts, percent, formatTime(time.Now().UTC()),
	)
}

func (q *Queue) Complete(ctx context.Context, job *entity.Job) error {
	return q.runGuarded(ctx, completeScript, job,
		[]string{q.jobKey(job.ID), q.activeKey()},
		job.Attempts, job.ID, formatTime(time.Now().UTC()), q.retention.Milliseconds(),
	)
}

func (q *Queue) Retry(ctx context.Context, job *entity.Job, delay time.Duration, reason string) error {
	now := time.Now().UTC()
	return q.runGuarded(ctx, retryScript, job,
		[]string{q.jobKey(job.ID), q.activeKey(), q.delayedKey()},
		job.Attempts, job.ID, now.Add(delay).UnixMilli(), reason, formatTime(now),
	)
}

func (q *Queue) Fail(ctx context.Context, job *entity.Job, reason string) error {
	return q.runGuarded(ctx, failScript, job,
		[]string{q.jobKey(job.ID), q.activeKey(), q.failedKey()},
		job.Attempts, job.ID, reason, formatTime(time.Now().UTC()),
	)
}

func (q *Queue) runGuarded(ctx context.Context, script *goredis.Script, job *entity.Job, keys []string, args ...interface{}) error {
	n, err := script.Run(ctx, q.rc, keys, args...).Int()
	if err != nil {
		return fmt.Errorf("update job %s: %w", job.ID, err)
	}
	switch n {
	case -1:
		return fmt.Errorf("%w: %s", port.ErrJobNotFound, job.ID)
	case 0:
		return fmt.Errorf("%w: %s", port.ErrJobNotActive, job.ID)
	}
	return nil
}

func (q *Queue) Status(ctx context.Context, jobID string) (*entity.Job, error) {
	fields, err := q.rc.HGetAll(ctx, q.jobKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("job status: %w", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %s", port.ErrJobNotFound, jobID)
	}
	return jobFromHash(fields)
}

func (q *Queue) Failed(ctx context.Context, limit int) ([]*entity.Job, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := q.rc.LRange(ctx, q.failedKey(), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("list failed jobs: %w", err)
	}
	jobs := make([]*entity.Job, 0, len(ids))
	for _, id := range ids {
		job, err := q.Status(ctx, id)
		if errors.Is(err, port.ErrJobNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Close is a no-op: the client is shared and closed by its owner.
func (q *Queue) Close() error { return nil }

func jobToHash(j *entity.Job) map[string]interface{} {
	return map[string]interface{}{
		"id":          j.ID,
		"kind":        j.Kind,
		"payload":     string(j.Payload),
		"attempts":    j.Attempts,
		"maxAttempts": j.MaxAttempts,
		"backoffMs":   j.BackoffBase.Milliseconds(),
		"state":       string(j.State),
		"progress":    j.Progress,
		"lastError":   j.LastError,
		"createdAt":   formatTime(j.CreatedAt),
		"updatedAt":   formatTime(j.UpdatedAt),
	}
}

func jobFromHash(h map[string]string) (*entity.Job, error) {
	j := &entity.Job{
		ID:        h["id"],
		Kind:      h["kind"],
		Payload:   []byte(h["payload"]),
		State:     entity.JobState(h["state"]),
		LastError: h["lastError"],
	}
	var err error
	if j.Attempts, err = atoi(h, "attempts"); err != nil {
		return nil, err
	}
	if j.MaxAttempts, err = atoi(h, "maxAttempts"); err != nil {
		return nil, err
	}
	if j.Progress, err = atoi(h, "progress"); err != nil {
		return nil, err
	}
	backoffMs, err := atoi(h, "backoffMs")
	if err != nil {
		return nil, err
	}
	j.BackoffBase = time.Duration(backoffMs) * time.Millisecond
	if j.CreatedAt, err = parseTime(h["createdAt"]); err != nil {
		return nil, err
	}
	if j.UpdatedAt, err = parseTime(h["updatedAt"]); err != nil {
		return nil, err
	}
	return j, nil
}

func pairsToMap(pairs []interface{}) map[string]string {
	m := make(map[string]string, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		k, _ := pairs[i].(string)
		v, _ := pairs[i+1].(string)
		m[k] = v
	}
	return m
}

func atoi(h map[string]string, field string) (int, error) {
	v, ok := h[field]
	if !ok || v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("decode job field %s: %w", field, err)
	}
	return n, nil
}

func formatTime(t time.Time) string { return t.Format(time.RFC3339Nano) }

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("decode job time: %w", err)
	}
	return t, nil
}
