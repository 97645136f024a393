package queue

import (
	"fmt"

	"github.com/ace-core/ace/internal/aceerr"
)

func aceErrNotLeased(id string) error {
	return aceerr.NotFound("queued_request_lease", id)
}

func aceErrNotOwner(id, owner string) error {
	return aceerr.Conflict(fmt.Sprintf("request %s is not leased to %s", id, owner))
}
