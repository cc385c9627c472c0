package store

import "github.com/redis/go-redis/v9"

// Lua 腳本：比對 token 後刪除鎖
//
// KEYS[1]: 鎖的 key
// ARGV[1]: 取得鎖時的 token
//
// 返回值：
//
//	1: 已釋放
//	0: 鎖已過期或被其他持有者取得
var releaseLockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// Lua 腳本：登記新房間
//
// 檢查全域上限與來源位址上限，兩者都通過才寫入，
// 同一位址的並發建立請求不會同時通過檢查。
//
// KEYS[1]: ip:<hash>:rooms
// KEYS[2]: global:room_count
// ARGV[1]: 房間代碼
// ARGV[2]: 每個位址的上限
// ARGV[3]: 全域上限
// ARGV[4]: 集合 TTL（秒）
//
// 返回值：
//
//	1: 成功
//	-1: 位址配額已滿
//	-2: 全域配額已滿
var registerRoomScript = redis.NewScript(`
local global = tonumber(redis.call('GET', KEYS[2]) or '0')
if global >= tonumber(ARGV[3]) then
	return -2
end

if redis.call('SISMEMBER', KEYS[1], ARGV[1]) == 0 then
	if redis.call('SCARD', KEYS[1]) >= tonumber(ARGV[2]) then
		return -1
	end
	redis.call('SADD', KEYS[1], ARGV[1])
end
redis.call('EXPIRE', KEYS[1], tonumber(ARGV[4]))
redis.call('INCR', KEYS[2])
return 1
`)

// Lua 腳本：遞減全域計數，不低於 0
//
// KEYS[1]: global:room_count
var decrGlobalScript = redis.NewScript(`
local v = redis.call('DECR', KEYS[1])
if v < 0 then
	redis.call('SET', KEYS[1], 0)
	return 0
end
return v
`)
