package redis

const (
	// confirmEnforcementScript writes telemetry onto an existing remote status
	// record only, so a confirmation racing a parent-side delete cannot
	// resurrect the record.
	confirmEnforcementScript = `
local record_key = KEYS[1]     -- childmon:children:{childID}:remoteStatus:{package}
local channel = KEYS[2]        -- childmon:changes:children:{childID}:remoteStatus

if redis.call('EXISTS', record_key) == 0 then
  return 0
end

redis.call('HSET', record_key,
  'enforced', ARGV[1],
  'enforcedAt', ARGV[2],
  'enforcementMethod', ARGV[3],
  'enforcedBy', ARGV[4]
)

-- Parent-side listeners watch the same channel
redis.call('PUBLISH', channel, ARGV[5])
return 1
`
)
