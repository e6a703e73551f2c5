package netsim

import "container/heap"

// scheduledDelivery is one pending message delivery, ordered first by
// simulated delivery time and then by a monotonically increasing
// sequence number so that ties resolve the same way on every run.
type scheduledDelivery struct {
	deliverTime float64
	seq         uint64
	msg         Message
}

// deliveryQueue implements container/heap.Interface over
// scheduledDelivery, ordered by (deliverTime, seq).
type deliveryQueue []*scheduledDelivery

func (q deliveryQueue) Len() int { return len(q) }

func (q deliveryQueue) Less(i, j int) bool {
	if q[i].deliverTime != q[j].deliverTime {
		return q[i].deliverTime < q[j].deliverTime
	}
	return q[i].seq < q[j].seq
}

func (q deliveryQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *deliveryQueue) Push(x interface{}) {
	*q = append(*q, x.(*scheduledDelivery))
}

func (q *deliveryQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

var _ heap.Interface = (*deliveryQueue)(nil)
