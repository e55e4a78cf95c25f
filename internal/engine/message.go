package engine

import (
	"errors"

	"github.com/zot/hotmod/internal/module"
	"github.com/zot/hotmod/internal/protocol"
)

// HandleMessage applies one change notification. Error notifications are
// logged and reported without touching the graph.
func (e *Engine) HandleMessage(msg protocol.Message) (Report, error) {
	if msg.IsError() {
		text := msg.ErrorText()
		e.log.Log(0, "Bundling error occurred: %s", text)
		return Report{BuildError: text}, nil
	}
	e.log.Log(1, "Bundle changed")
	set, err := msg.Records()
	if err != nil {
		return Report{}, err
	}
	return e.Apply(set)
}

// Apply patches the store with set and reloads what changed. Compile
// failures are returned alongside the report of the records that did apply.
func (e *Engine) Apply(set module.RecordSet) (Report, error) {
	if e.state == StateFatal {
		return Report{}, ErrBroken
	}
	if e.reloading {
		return Report{}, ErrReloadInProgress
	}
	changes, perr := e.Patch(set)
	if len(changes) == 0 {
		e.log.Log(2, "Nothing to reload")
		return Report{}, perr
	}
	report, err := e.Reload(changes)
	return report, errors.Join(perr, err)
}
