/*
Package events defines the typed events pushed by the RunnerX server and
the Registry that dispatches them to subscribers.

# Event Model

Every wire record is a JSON object with a "type" discriminator. ParseRecord
decodes it into a concrete variant implementing Event:

	monitor:update          MonitorUpdate    (fields merged into the cache)
	monitor:status_change   StatusChange
	notification            Notification
	pong                    Pong
	logs:event/logs:insight LogEvent
	system_mood_update,
	command:result, ...     Generic
	anything else           Unknown          (forward compatibility)

The lifecycle kinds connection:open, connection:close, connection:failed
and error are synthesized by the channel (ConnectionOpen, ConnectionClose,
ConnectionFailed, Error). A wire record claiming one of those kinds
decodes as Unknown so the server cannot spoof connectivity changes.

# Dispatch

	Dispatch(ev)
	    │
	    ├──► handlers for ev.Kind()   (registration order)
	    └──► handlers for "*"         (registration order)

Dispatch iterates over the subscriber slices captured at entry. Removal
copies the slice instead of editing it in place, and every subscription
carries an active flag checked right before its handler runs, so an
unsubscribe issued during dispatch (even by the handler itself) takes
effect for every handler that has not run yet and never disturbs the
others. Handler panics are recovered, logged and counted.

# Usage

	reg := events.NewRegistry()
	unsub := reg.Subscribe(events.KindMonitorUpdate, func(ev events.Event) {
		update := ev.(events.MonitorUpdate)
		buffer.Record(update.MonitorID, update.Fields())
	})
	defer unsub()

	ch, stop := reg.SubscribeChan(events.KindNotification, events.KindStatusChange)
	defer stop()
	for ev := range ch {
		switch e := ev.(type) {
		case events.Notification:
			fmt.Println(e.Message)
		case events.StatusChange:
			fmt.Println(e.MonitorID, e.OldStatus, "->", e.NewStatus)
		}
	}
*/
package events
