package redis

import "github.com/redis/go-redis/v9"

/* Lua scripts keep every status change atomic on the Redis side
 * Scripts that touch webhook:{id} hashes derived from ARGV assume a single
 * Redis node, not a cluster.
 */

// KEYS: hash, recent, status set, orphans, delivery
// ARGV: has delivery, id, created score, orphan flag, field/value pairs...
var createScript = redis.NewScript(`
if ARGV[1] == '1' then
  local existing = redis.call('GET', KEYS[5])
  if existing then
    return existing
  end
  redis.call('SET', KEYS[5], ARGV[2])
end
redis.call('HSET', KEYS[1], unpack(ARGV, 5))
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[2])
redis.call('ZADD', KEYS[3], ARGV[3], ARGV[2])
if ARGV[4] == '1' then
  redis.call('ZADD', KEYS[4], ARGV[3], ARGV[2])
end
return ''
`)

// KEYS: hash, pending set, processing set, due, orphans
// ARGV: id, now
var claimScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status then
  return -1
end
if status ~= 'pending' then
  return 0
end
redis.call('HSET', KEYS[1], 'status', 'processing', 'updated_at', ARGV[2])
local created = redis.call('HGET', KEYS[1], 'created_at')
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('ZADD', KEYS[3], created, ARGV[1])
redis.call('ZREM', KEYS[4], ARGV[1])
redis.call('ZREM', KEYS[5], ARGV[1])
return 1
`)

// KEYS: pending set, processing set, due, orphans
// ARGV: now, orphan before, max retries, limit, hash prefix
var claimDueScript = redis.NewScript(`
local limit = tonumber(ARGV[4])
local maxRetries = tonumber(ARGV[3])
local claimed = {}

local function try(id)
  local key = ARGV[5] .. id
  local status = redis.call('HGET', key, 'status')
  if status ~= 'pending' then
    redis.call('ZREM', KEYS[3], id)
    redis.call('ZREM', KEYS[4], id)
    return
  end
  local retries = tonumber(redis.call('HGET', key, 'retry_count') or '0')
  if retries > maxRetries then
    redis.call('ZREM', KEYS[3], id)
    redis.call('ZREM', KEYS[4], id)
    return
  end
  redis.call('HSET', key, 'status', 'processing', 'updated_at', ARGV[1])
  local created = redis.call('HGET', key, 'created_at')
  redis.call('ZREM', KEYS[1], id)
  redis.call('ZADD', KEYS[2], created, id)
  redis.call('ZREM', KEYS[3], id)
  redis.call('ZREM', KEYS[4], id)
  table.insert(claimed, id)
end

for _, id in ipairs(redis.call('ZRANGEBYSCORE', KEYS[3], '-inf', ARGV[1], 'LIMIT', 0, limit)) do
  try(id)
end
if #claimed < limit then
  for _, id in ipairs(redis.call('ZRANGEBYSCORE', KEYS[4], '-inf', ARGV[2], 'LIMIT', 0, limit - #claimed)) do
    try(id)
  end
end
return claimed
`)

// KEYS: hash, processing set, target status set, due, processed index
// ARGV: id, target status, due score, processed score, field to delete, field/value pairs...
var transitionScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status then
  return -1
end
if status ~= 'processing' then
  return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV, 6))
if ARGV[5] ~= '' then
  redis.call('HDEL', KEYS[1], ARGV[5])
end
if ARGV[2] ~= 'processing' then
  local created = redis.call('HGET', KEYS[1], 'created_at')
  redis.call('ZREM', KEYS[2], ARGV[1])
  redis.call('ZADD', KEYS[3], created, ARGV[1])
end
if ARGV[3] ~= '' then
  redis.call('ZADD', KEYS[4], ARGV[3], ARGV[1])
end
if ARGV[4] ~= '' then
  redis.call('ZADD', KEYS[5], ARGV[4], ARGV[1])
end
return 1
`)
