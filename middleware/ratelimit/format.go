// utilitário pequeno para formatação consistente de valores numéricos em headers.

package ratelimit

import (
	"strconv"
	"time"
)

func formatUint(v uint64) string { return strconv.FormatUint(v, 10) }

func formatInt64(v int64) string { return strconv.FormatInt(v, 10) }

// retryAfterSeconds arredonda para cima, com mínimo de 1.
func retryAfterSeconds(d time.Duration) int64 {
	secs := int64((d + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}
