package scanner

import "context"

// EventKind identifies a progress event
type EventKind int

const (
	// EventFileParsed reports a file that produced Blocks blocks
	EventFileParsed EventKind = iota + 1
	// EventBatchIndexed reports Blocks points written
	EventBatchIndexed
	// EventBatchError reports a batch of Blocks blocks that failed with Err
	EventBatchError
)

func (k EventKind) String() string {
	switch k {
	case EventFileParsed:
		return "file_parsed"
	case EventBatchIndexed:
		return "batch_indexed"
	case EventBatchError:
		return "batch_error"
	default:
		return "unknown"
	}
}

// Event is a scan progress notification
type Event struct {
	Kind   EventKind
	File   string
	Blocks int
	Err    error
}

func emit(ctx context.Context, events chan<- Event, ev Event) error {
	if events == nil {
		return nil
	}
	select {
	case events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
