package records

// Failure is one record rejected by an unordered bulk insert.
type Failure[T any] struct {
	Record T
	Reason error
}

// BatchResult is the outcome of an unordered, continue-on-error bulk insert.
type BatchResult[T any] struct {
	Succeeded int
	Failed    []Failure[T]
}

func (r *BatchResult[T]) Fail(record T, reason error) {
	r.Failed = append(r.Failed, Failure[T]{Record: record, Reason: reason})
}

// Merge folds other into r.
func (r *BatchResult[T]) Merge(other BatchResult[T]) {
	r.Succeeded += other.Succeeded
	r.Failed = append(r.Failed, other.Failed...)
}
