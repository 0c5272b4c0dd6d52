package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteTransactionMetric records the outcome of one powerline
// transaction.
//
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - target: Logical target the transaction ran against (e.g., "12/unit:5")
//   - outcome: Terminal result ("ok", "rejected", "ack_mismatch", "max_retries", ...)
//   - duration: Wall-clock time from first send to terminal result
//
// Example:
//
//	client.WriteTransactionMetric("12/unit:5", "ok", 180*time.Millisecond)
func (c *Client) WriteTransactionMetric(target string, outcome string, duration time.Duration) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"upb_transactions",
		map[string]string{
			"target":  target,
			"outcome": outcome,
		},
		map[string]interface{}{
			"duration_ms": float64(duration.Milliseconds()),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteLinkEvent records a link (scene) activation or deactivation
// observed on the powerline.
//
// Parameters:
//   - networkID: UPB network the event was observed on
//   - sourceID: Device that transmitted the event
//   - linkID: The link that was activated or deactivated
//   - activated: true for activation, false for deactivation
func (c *Client) WriteLinkEvent(networkID, sourceID, linkID byte, activated bool) {
	if !c.IsConnected() {
		return
	}

	state := "deactivated"
	if activated {
		state = "activated"
	}

	point := write.NewPoint(
		"upb_link_events",
		map[string]string{
			"network": strconv.Itoa(int(networkID)),
			"link":    strconv.Itoa(int(linkID)),
			"state":   state,
		},
		map[string]interface{}{
			"source_id": int(sourceID),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteDeviceReport records an unsolicited device state report.
//
// Parameters:
//   - networkID: UPB network the report was observed on
//   - sourceID: Device that transmitted the report
//   - level: First argument byte of the report, typically a light level
func (c *Client) WriteDeviceReport(networkID, sourceID byte, level int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"upb_device_reports",
		map[string]string{
			"network": strconv.Itoa(int(networkID)),
			"device":  strconv.Itoa(int(sourceID)),
		},
		map[string]interface{}{
			"level": level,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
//
// Example:
//
//	client.WritePoint("transport_stats",
//	    map[string]string{"host": "pim-01"},
//	    map[string]interface{}{"frames_rx": 1042, "reconnects": 2})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., delayed data).
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Key-value pairs for indexing
//   - fields: Key-value pairs for the data
//   - timestamp: The exact time for this data point
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
