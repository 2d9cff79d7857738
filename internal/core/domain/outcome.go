package domain

// WorkItem is the caller-supplied definition of one unit of work. Key is
// opaque to the engine and only used for lookup and reporting.
type WorkItem struct {
	Key    string
	Params map[string]string
}

// Outcome is what an operation returns for a successful attempt. Payload is
// never inspected by the engine. NeedsReview flags a result the operation
// itself considers incomplete, independent of any validator.
type Outcome struct {
	Payload     any
	NeedsReview bool
}
