// ABOUTME: Provider report cache contract shared by the badger and redis backends
// ABOUTME: Reports are keyed by provider role and content fingerprint with a TTL

package cache

import (
	"context"
	"errors"
	"time"

	"github.com/hikmaai-io/hikmaai-codescan/internal/types"
)

// DefaultTTL is how long a cached report stays valid.
const DefaultTTL = 24 * time.Hour

// Cache stores upstream provider reports so repeated files skip the network.
type Cache interface {
	Get(ctx context.Context, role types.ProviderRole, fingerprint string) (*types.ProviderReport, bool, error)
	Set(ctx context.Context, report types.ProviderReport) error
	Count(ctx context.Context) (int64, error)
	Clear(ctx context.Context) error
	Backend() string
	Close() error
}

// ErrInvalidReport is returned when a report lacks its role or fingerprint.
var ErrInvalidReport = errors.New("report needs a role and a fingerprint")

func validate(r types.ProviderReport) error {
	if r.Role == "" || r.Fingerprint == "" {
		return ErrInvalidReport
	}
	return nil
}
