package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"attendance-ingest/internal/attendance"
	"attendance-ingest/internal/storage"

	"github.com/jonboulle/clockwork"
)

const (
	streamPath  = "/event/stream"
	recordsPath = "/event/records"
	probePath   = "/device/info"

	// Unmatched stream text kept between reads. A blob larger than this
	// is garbage.
	maxStreamBacklog = 64 << 10
)

// Every flat JSON object in the stream is a candidate punch.
var reStreamBlob = regexp.MustCompile(`(\{[^{}]*\})`)

// StreamHTTP reads punches from a device's long lived chunked HTTP
// response.
type StreamHTTP struct {
	client  *http.Client
	stream  *http.Client
	clock   clockwork.Clock
	probe   time.Duration
	retry   time.Duration
	beat    time.Duration
	silence time.Duration
	logger  *slog.Logger
}

func NewStreamHTTP(opts Options) *StreamHTTP {
	opts = opts.withDefaults()
	return &StreamHTTP{
		client: opts.HTTPClient,
		// The stream never completes, a client timeout would cut it.
		stream:  &http.Client{Transport: opts.HTTPClient.Transport},
		clock:   opts.Clock,
		probe:   opts.ProbeTimeout,
		retry:   opts.StreamRetryDelay,
		beat:    opts.HeartbeatInterval,
		silence: opts.SilenceTimeout,
		logger:  slog.With("component", "adapter", "vendor", VendorStreamHTTP),
	}
}

func (a *StreamHTTP) Vendor() string { return VendorStreamHTTP }

func (a *StreamHTTP) Heartbeat() (time.Duration, time.Duration) {
	return a.beat, a.silence
}

type streamBlob struct {
	UserID    idField   `json:"UserID"`
	UTC       timeField `json:"UTC"`
	EventType string    `json:"EventType"`
}

func (b streamBlob) record() (RawRecord, error) {
	if b.UserID == "" {
		return RawRecord{}, errors.New("no UserID")
	}
	ts, err := b.UTC.epochSeconds(time.UTC)
	if err != nil {
		return RawRecord{}, err
	}
	r := RawRecord{BiometricUserID: string(b.UserID), Timestamp: ts}
	switch b.EventType {
	case "in", "IN", "CheckIn":
		r.EventType = attendance.Type(attendance.CheckIn)
	case "out", "OUT", "CheckOut":
		r.EventType = attendance.Type(attendance.CheckOut)
	}
	return r, nil
}

func (a *StreamHTTP) newRequest(ctx context.Context, device storage.Device, path string, query map[string]string) (*http.Request, error) {
	u, err := baseURL("http", device.Host, device.Port)
	if err != nil {
		return nil, err
	}
	u.Path = path
	q := u.Query()
	for k, v := range query {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	if device.Username != "" || device.Password != "" {
		req.SetBasicAuth(device.Username, device.Password)
	}
	return req, nil
}

func (a *StreamHTTP) TestConnection(ctx context.Context, device storage.Device) bool {
	ctx, cancel := context.WithTimeout(ctx, a.probe)
	defer cancel()

	req, err := a.newRequest(ctx, device, probePath, nil)
	if err != nil {
		return false
	}
	resp, err := a.client.Do(req)
	if err != nil {
		a.logger.Debug("Probe failed", "device_id", device.ID, "error", err)
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func (a *StreamHTTP) StartListening(device storage.Device, sink Sink) func() {
	ctx, cancel := context.WithCancel(context.Background())
	go a.listen(ctx, device, sink)
	return cancel
}

// listen reconnects after a fixed delay until ctx ends.
func (a *StreamHTTP) listen(ctx context.Context, device storage.Device, sink Sink) {
	logger := a.logger.With("device_id", device.ID)
	for {
		sink.State(StateConnecting)
		err := a.consume(ctx, device, sink)
		if ctx.Err() != nil {
			return
		}
		logger.Warn("Stream ended, retrying", "error", err, "retry_in", a.retry)
		sink.State(StateReconnectWait)
		if !sleep(ctx, a.clock, a.retry) {
			return
		}
	}
}

func (a *StreamHTTP) consume(ctx context.Context, device storage.Device, sink Sink) error {
	req, err := a.newRequest(ctx, device, streamPath, map[string]string{
		"heartbeat": strconv.Itoa(int(a.beat / time.Second)),
	})
	if err != nil {
		return err
	}
	resp, err := a.stream.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	sink.State(StateConnected)
	sink.Alive()

	buf := make([]byte, 4096)
	var backlog []byte
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			sink.Alive()
			backlog = append(backlog, buf[:n]...)
			backlog = a.scan(backlog, device, sink)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return errors.New("stream closed by device")
			}
			return err
		}
	}
}

// scan emits every complete blob in data and returns the unconsumed tail.
func (a *StreamHTTP) scan(data []byte, device storage.Device, sink Sink) []byte {
	matches := reStreamBlob.FindAllSubmatchIndex(data, -1)
	end := 0
	for _, m := range matches {
		end = m[1]
		blob := data[m[2]:m[3]]

		var b streamBlob
		if err := json.Unmarshal(blob, &b); err != nil {
			a.logger.Debug("Skipping unparseable blob", "device_id", device.ID, "error", err)
			continue
		}
		r, err := b.record()
		if err != nil {
			// Keep-alive and status frames carry no user.
			continue
		}
		sink.Event(r.Event(device))
	}

	rest := data[end:]
	if len(rest) > maxStreamBacklog {
		rest = rest[len(rest)-maxStreamBacklog:]
	}
	return append([]byte(nil), rest...)
}

// FetchAttendanceRecords pulls the device log between start and end.
// The device answers a JSON array of stream blobs, bare or under
// "records".
func (a *StreamHTTP) FetchAttendanceRecords(ctx context.Context, device storage.Device, start, end time.Time) ([]RawRecord, error) {
	req, err := a.newRequest(ctx, device, recordsPath, map[string]string{
		"start": strconv.FormatInt(start.UTC().Unix(), 10),
		"end":   strconv.FormatInt(end.UTC().Unix(), 10),
	})
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, err
	}

	var blobs []streamBlob
	if err := json.Unmarshal(body, &blobs); err != nil {
		var wrapped struct {
			Records []streamBlob `json:"records"`
		}
		if werr := json.Unmarshal(body, &wrapped); werr != nil {
			return nil, parseError(VendorStreamHTTP, "invalid records body", err)
		}
		blobs = wrapped.Records
	}

	records := make([]RawRecord, 0, len(blobs))
	for _, b := range blobs {
		r, err := b.record()
		if err != nil {
			continue
		}
		if r.Timestamp.Before(start) || r.Timestamp.After(end) {
			continue
		}
		records = append(records, r)
	}
	return records, nil
}
