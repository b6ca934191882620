//go:build !linux && !darwin

package retention

import (
	"os"
	"time"
)

func birthTime(_ string, _ os.FileInfo) (time.Time, bool) {
	return time.Time{}, false
}
