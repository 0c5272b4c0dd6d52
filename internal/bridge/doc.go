// Package bridge orchestrates bidirectional translation between MQTT
// and the UPB powerline.
//
// # Architecture
//
//	Controllers ←→ MQTT Broker ←→ Bridge ←→ Transaction Engine ←→ PIM
//
// Commands arrive on upb/command/... topics, run as powerline
// transactions through the pim package, and each produces a response
// on upb/response/{id}. Unsolicited traffic observed on the powerline
// (link activations, device state reports) is published on
// upb/event/... topics, appended to the event history, and optionally
// written to InfluxDB.
//
// # Components
//
//   - Bridge: command handling and event forwarding (pim.NotificationSink)
//   - HealthReporter: periodic retained status on upb/health, plus the
//     MQTT Last Will and Testament payload
//   - EventStore: SQLite-backed history of observed events
//
// # Usage
//
//	b, err := bridge.New(bridge.Options{
//	    MQTT:      mqttClient,
//	    Engine:    engine,
//	    Transport: transport,
//	    Events:    bridge.NewEventStore(db.DB()),
//	    NetworkID: 12,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := b.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer b.Stop()
//
// # Thread Safety
//
// All exported methods are safe for concurrent use. Command execution
// runs on its own goroutine per command; the transaction engine
// serialises transactions per target.
package bridge
