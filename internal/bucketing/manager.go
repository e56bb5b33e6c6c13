package bucketing

import (
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"otp-service/internal/clock"

	"github.com/spaolacci/murmur3"
)

// BucketingManager derives storage key segments for identifiers and
// fixed rate-limit windows.
type BucketingManager struct {
	hashKeys   bool
	clock      clock.Clocker
	hasherPool sync.Pool
}

func NewBucketingManager(hashKeys bool, clk clock.Clocker) *BucketingManager {
	if clk == nil {
		clk = clock.New()
	}
	bm := &BucketingManager{
		hashKeys: hashKeys,
		clock:    clk,
	}

	bm.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New128()
		},
	}

	return bm
}

// IdentifierKey returns the key segment for identifier. With hashing enabled
// it is the hex murmur3-128 digest, which keeps raw emails and phone numbers
// out of the keyspace and bounds key length.
func (bm *BucketingManager) IdentifierKey(identifier string) string {
	if !bm.hashKeys {
		return identifier
	}

	hasher := bm.hasherPool.Get().(murmur3.Hash128)
	defer bm.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(identifier))
	return hex.EncodeToString(hasher.Sum(nil))
}

// WindowIndex returns floor(now / window) in whole seconds.
func (bm *BucketingManager) WindowIndex(window time.Duration) int64 {
	secs := int64(window / time.Second)
	if secs <= 0 {
		secs = 1
	}
	return bm.clock.Now().Unix() / secs
}

// RateLimitKey is the counter key for key within the current window.
func (bm *BucketingManager) RateLimitKey(key string, window time.Duration) string {
	return fmt.Sprintf("rl:%s:%d", key, bm.WindowIndex(window))
}
