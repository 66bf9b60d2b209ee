package cache

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/zeebo/blake3"
)

// DeriveKey builds a deterministic cache key from a prefix and a parameter
// map: the parameters are serialized with sorted keys and digested, so the
// same query always lands on the same key regardless of map iteration order.
func DeriveKey(prefix string, params map[string]any) string {
	if len(params) == 0 {
		return prefix
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		v, err := json.Marshal(params[k])
		if err != nil {
			v = []byte(fmt.Sprintf("%v", params[k]))
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.Write(v)
		b.WriteByte(';')
	}

	sum := blake3.Sum256([]byte(b.String()))
	return prefix + ":" + hex.EncodeToString(sum[:8])
}
