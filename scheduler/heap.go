package scheduler

import "container/heap"

// taskHeap is a max-heap on Priority with ascending Key as tie break.
type taskHeap[T any] []PrioritizedTask[T]

func (h taskHeap[T]) Len() int { return len(h) }

func (h taskHeap[T]) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].Key < h[j].Key
}

func (h taskHeap[T]) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap[T]) Push(x any) {
	*h = append(*h, x.(PrioritizedTask[T]))
}

func (h *taskHeap[T]) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func (h *taskHeap[T]) push(t PrioritizedTask[T]) {
	heap.Push(h, t)
}

func (h *taskHeap[T]) pop() PrioritizedTask[T] {
	return heap.Pop(h).(PrioritizedTask[T])
}
