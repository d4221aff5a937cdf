// Package history writes zone and tile readings to InfluxDB after every
// successful module refresh.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/techbridge/techbridge/pkg/assets"
	"github.com/techbridge/techbridge/pkg/coordinator"
	"github.com/techbridge/techbridge/pkg/entity"
	"github.com/techbridge/techbridge/pkg/log"
	"github.com/techbridge/techbridge/pkg/types"
)

const (
	measurementZone = "zone"
	measurementTile = "tile"

	connectTimeout = 10 * time.Second
)

// ErrDisabled is returned by Connect when no InfluxDB URL is configured.
var ErrDisabled = errors.New("influxdb is disabled")

// PointWriter is satisfied by the non-blocking influx write API.
type PointWriter interface {
	WritePoint(point *write.Point)
}

// Writer turns module updates into points.
type Writer struct {
	points PointWriter
	lookup *assets.Lookup
}

// NewWriter returns a writer sending points to w.
func NewWriter(w PointWriter, lookup *assets.Lookup) *Writer {
	return &Writer{points: w, lookup: lookup}
}

// Listener returns the coordinator listener that records updates. Failed
// updates are not recorded.
func (w *Writer) Listener() coordinator.Listener {
	return func(ctx context.Context, u coordinator.Update) {
		if u.Err != nil {
			return
		}
		n := w.Write(u.Data)
		log.Ctx(ctx).DebugContext(ctx, "wrote history points", slog.String("udid", u.UDID), slog.Int("points", n))
	}
}

// Write writes one point per zone and one per numeric tile entity and
// returns how many points were written.
func (w *Writer) Write(d types.ModuleData) int {
	ts := d.LastUpdate
	if ts.IsZero() {
		ts = time.Now()
	}
	var n int
	for _, z := range d.Zones {
		if p := zonePoint(d.UDID, z, ts); p != nil {
			w.points.WritePoint(p)
			n++
		}
	}
	for _, e := range entity.Build(w.lookup, d) {
		if e.TileID == 0 {
			continue
		}
		v, ok := e.Numeric()
		if !ok {
			continue
		}
		w.points.WritePoint(write.NewPoint(
			measurementTile,
			map[string]string{
				"udid":     d.UDID,
				"entity":   e.UniqueID,
				"name":     e.Name,
				"platform": string(e.Platform),
			},
			map[string]any{"value": v},
			ts,
		))
		n++
	}
	return n
}

func zonePoint(udid string, z types.Zone, ts time.Time) *write.Point {
	fields := map[string]any{}
	if v, ok := z.CurrentTemperature(); ok {
		fields["currentTemperature"] = v
	}
	if v, ok := z.TargetTemperature(); ok {
		fields["setTemperature"] = v
	}
	if v, ok := z.Humidity(); ok {
		fields["humidity"] = v
	}
	if v, ok := z.BatteryLevel(); ok {
		fields["battery"] = v
	}
	if len(fields) == 0 {
		return nil
	}
	fields["on"] = z.On()
	tags := map[string]string{
		"udid": udid,
		"zone": fmt.Sprint(z.ID()),
	}
	if name := z.Name(); name != "" {
		tags["name"] = name
	}
	return write.NewPoint(measurementZone, tags, fields, ts)
}

// Client owns the influx connection and its write API.
type Client struct {
	client influxdb2.Client
	*Writer
	flush func()
}

// Connect creates the client, pings the server and starts the batching
// write API. Async write errors are logged.
func Connect(ctx context.Context, cfg Config, lookup *assets.Lookup) (*Client, error) {
	if !cfg.Enabled() {
		return nil, ErrDisabled
	}
	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(cfg.BatchSize).
			SetFlushInterval(uint(cfg.FlushInterval/time.Millisecond)),
	)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("influxdb ping failed: %w", err)
	}
	if !healthy {
		client.Close()
		return nil, errors.New("influxdb server not healthy")
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	go func() {
		for err := range writeAPI.Errors() {
			log.Ctx(ctx).WarnContext(ctx, "influxdb write failed", slog.Any("error", err))
		}
	}()
	return &Client{
		client: client,
		Writer: NewWriter(writeAPI, lookup),
		flush:  writeAPI.Flush,
	}, nil
}

// Close flushes pending points and closes the client.
func (c *Client) Close() {
	c.flush()
	c.client.Close()
}
