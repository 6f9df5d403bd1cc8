package monitor

// Subscribe registers on the process-wide Default monitor.
func Subscribe(topic Topic) *Subscription { return Default.Subscribe(topic) }

// Unsubscribe removes a subscription from the process-wide Default monitor.
func Unsubscribe(id uint64) { Default.Unsubscribe(id) }

// Notify delivers e on the process-wide Default monitor.
func Notify(e ExitEvent) { Default.Notify(e) }
