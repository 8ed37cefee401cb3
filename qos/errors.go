package qos

import "errors"

// ErrConfigInvalid is returned by NewConfig and the counter constructors
// when an init-param cannot be parsed or fails validation. Per spec.md §7,
// this is the only error kind that propagates to the caller: every other
// runtime condition (a cancelled slot acquire, a full queue, an aged-out
// request, a failed error response write) is converted into a local
// admit/queue/reject decision instead of a returned error.
var ErrConfigInvalid = errors.New("qos: invalid configuration")
