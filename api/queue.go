package api

// QueueStatus reports the Pending Queue's local backlog (§4.8 queue.status()).
type QueueStatus struct {
	PendingCount          int
	LastAckDeviceSeq      uint64
	OldestPendingCreateAt int64 // 0 when the queue is empty
}

// QueueStatus computes the current Pending Queue depth for the local
// device and identity (§3 "Pending Queue").
func (c *Client) QueueStatus() (QueueStatus, error) {
	if !c.deviceStore.Initialized() {
		// Device Record wiped by Clear: nothing can be pending for it.
		return QueueStatus{LastAckDeviceSeq: c.allocator.LastAckDeviceSeq()}, nil
	}
	device, err := c.deviceStore.Get()
	if err != nil {
		return QueueStatus{}, newCoreError(KindValidation, err)
	}
	lastAck := c.allocator.LastAckDeviceSeq()

	pending, err := c.log.PendingQueue(device.ID.String(), c.idStore.UserID(), lastAck)
	if err != nil {
		return QueueStatus{}, newCoreError(KindValidation, err)
	}

	status := QueueStatus{PendingCount: len(pending), LastAckDeviceSeq: lastAck}
	for _, s := range pending {
		if status.OldestPendingCreateAt == 0 || s.CreatedAt < status.OldestPendingCreateAt {
			status.OldestPendingCreateAt = s.CreatedAt
		}
	}
	return status, nil
}
