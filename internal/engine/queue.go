package engine

// priorityQueues holds pending tasks, FIFO within each priority.
type priorityQueues [numPriorities][]*taskEntry

func (q *priorityQueues) push(e *taskEntry) {
	q[e.task.Priority] = append(q[e.task.Priority], e)
}

// pop removes the oldest task of the highest non-empty priority.
func (q *priorityQueues) pop() *taskEntry {
	for p := numPriorities - 1; p >= 0; p-- {
		if len(q[p]) == 0 {
			continue
		}
		e := q[p][0]
		q[p][0] = nil
		q[p] = q[p][1:]
		return e
	}
	return nil
}

// remove drops e from its queue and reports whether it was queued.
func (q *priorityQueues) remove(e *taskEntry) bool {
	list := q[e.task.Priority]
	for i, other := range list {
		if other == e {
			q[e.task.Priority] = append(list[:i], list[i+1:]...)
			return true
		}
	}
	return false
}

func (q *priorityQueues) len() int {
	n := 0
	for _, list := range q {
		n += len(list)
	}
	return n
}
