package domain

import "errors"

// ErrAllHostsFailed is returned by the stage kernel when every host ends the
// run in the failed set.
var ErrAllHostsFailed = errors.New("domain: every host failed")

// ErrNoHostsSelected is returned when neither -H nor -g named any host.
var ErrNoHostsSelected = errors.New("domain: at least one host or group must be specified")
