package identity

// subscriberCount は現在の購読者数を返す。
func (h *Hub) subscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
