package task

import "github.com/google/uuid"

// newShortID mints a short, unique identifier for an ActiveTaskRecord or a
// teardown call, the way other_examples/fawad-mazhar-naxos__task.go and
// other_examples/ent0n29-samantha__manager.go mint task/step ids with
// uuid.NewString, truncated here since the spec calls for a "short"
// identifier rather than a full UUID.
func newShortID() string {
	return uuid.New().String()[:8]
}
