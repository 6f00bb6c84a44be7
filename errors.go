package storecache

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// ErrPolicy marks errors returned by Options.EntryPolicy. The policy's own
// error stays reachable through errors.Is.
var ErrPolicy = errors.New("storecache: entry policy failed")

// ConfigError reports an invalid Options field.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("storecache: invalid option %s: %s", e.Field, e.Message)
}

func policyError(key string, err error) error {
	return errors.Mark(errors.Wrapf(err, "entry policy for %q", key), ErrPolicy)
}

// corruptError reports bytes that carry our magic yet fail to decode. The
// process wrote them itself, so this is a bug rather than foreign data.
func corruptError(key string, err error) error {
	return errors.NewAssertionErrorWithWrappedErrf(err, "storecache: self-written entry %q does not decode", key)
}
