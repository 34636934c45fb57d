package kvstore

import "strconv"

// Key conventions shared by every component (spec data model §3): chain
// configs and sessions each get a prefixed string key; all health records
// live as fields of one hash.
const (
	ChainKeyPrefix   = "chain:"
	SessionKeyPrefix = "session:"
	HealthHashKey    = "health"
)

func ChainKey(chainID int64) string {
	return ChainKeyPrefix + strconv.FormatInt(chainID, 10)
}

func SessionKey(id string) string {
	return SessionKeyPrefix + id
}
