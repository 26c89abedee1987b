package ratchet

import (
	"time"

	"waypoint/internal/domain"
	"waypoint/internal/util/memzero"
)

// take removes and returns the key for (ratchetKey, n) if cached.
func take(c *domain.MessageKeyCache, ratchetKey domain.X25519Public, n uint32) ([]byte, bool) {
	for i, k := range c.Keys {
		if k.RatchetKey == ratchetKey && k.MessageIndex == n {
			c.Keys = append(c.Keys[:i:i], c.Keys[i+1:]...)
			return k.Key, true
		}
	}
	return nil, false
}

// put appends a key, evicting the oldest entries beyond maxCache.
func put(c *domain.MessageKeyCache, k domain.SkippedMessageKey, maxCache int) {
	c.Keys = append(c.Keys, k)
	if maxCache <= 0 {
		return
	}
	for len(c.Keys) > maxCache {
		memzero.Zero(c.Keys[0].Key)
		c.Keys = c.Keys[1:]
	}
}

// expire drops keys created before now-ttl. A zero ttl keeps everything.
func expire(c *domain.MessageKeyCache, now time.Time, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	cutoff := now.Add(-ttl).Unix()
	kept := c.Keys[:0]
	for _, k := range c.Keys {
		if k.CreatedUTC < cutoff {
			memzero.Zero(k.Key)
			continue
		}
		kept = append(kept, k)
	}
	c.Keys = kept
}

func cloneCache(c domain.MessageKeyCache) domain.MessageKeyCache {
	if len(c.Keys) == 0 {
		return domain.MessageKeyCache{}
	}
	out := domain.MessageKeyCache{Keys: make([]domain.SkippedMessageKey, len(c.Keys))}
	for i, k := range c.Keys {
		k.Key = append([]byte(nil), k.Key...)
		out.Keys[i] = k
	}
	return out
}

func cloneState(s domain.RatchetState) domain.RatchetState {
	out := s
	out.RootKey = cloneBytes(s.RootKey)
	out.SendChainKey = cloneBytes(s.SendChainKey)
	out.ReceiveChainKey = cloneBytes(s.ReceiveChainKey)
	if s.PeerDiffieHellmanPublic != nil {
		peer := *s.PeerDiffieHellmanPublic
		out.PeerDiffieHellmanPublic = &peer
	}
	out.RetiredPeerKeys = append([]domain.X25519Public(nil), s.RetiredPeerKeys...)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
