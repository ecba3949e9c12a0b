package adapter

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"attendance-ingest/internal/storage"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func streamDevice(url string) storage.Device {
	return storage.Device{ID: "dev-stream", CompanyID: "acme", Vendor: VendorStreamHTTP,
		Host: url, Username: "admin", Password: "pw"}
}

func TestStreamHTTP_EmitsBlobsAcrossChunks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "admin" || pass != "pw" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Path != streamPath || r.URL.Query().Get("heartbeat") != "30" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		flusher := w.(http.Flusher)
		w.WriteHeader(http.StatusOK)

		fmt.Fprint(w, "--boundary\r\nContent-Type: application/json\r\n\r\n{\"UserID\":\"42\",\"UTC\":1700000000}\r\n")
		flusher.Flush()
		fmt.Fprint(w, "--boundary\r\n{\"Status\":\"alive\"}\r\n--boundary\r\n{\"UserID\":43,")
		flusher.Flush()
		fmt.Fprint(w, "\"UTC\":1700000060}\r\n")
		flusher.Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	a := NewStreamHTTP(Options{})
	sink := newTestSink()
	stop := a.StartListening(streamDevice(srv.URL), sink)
	defer stop()

	first := sink.next(t)
	assert.Equal(t, "42", first.BiometricUserID)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), first.Timestamp)
	assert.Nil(t, first.EventType)
	assert.Equal(t, "dev-stream", first.DeviceID)

	second := sink.next(t)
	assert.Equal(t, "43", second.BiometricUserID)

	sink.none(t, 50*time.Millisecond)
	assert.Contains(t, sink.States(), StateConnected)
	assert.GreaterOrEqual(t, sink.Alives(), 2)

	stop()
	stop()
}

func TestStreamHTTP_RetriesAfterFixedDelay(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"UserID":"42","UTC":1700000000}`)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	clk := clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	a := NewStreamHTTP(Options{Clock: clk, StreamRetryDelay: 10 * time.Second})
	sink := newTestSink()
	stop := a.StartListening(streamDevice(srv.URL), sink)
	defer stop()

	require.NoError(t, clk.BlockUntilContext(t.Context(), 1))
	assert.Equal(t, int32(1), calls.Load())
	assert.Contains(t, sink.States(), StateReconnectWait)

	clk.Advance(9 * time.Second)
	sink.none(t, 50*time.Millisecond)

	clk.Advance(time.Second)
	ev := sink.next(t)
	assert.Equal(t, "42", ev.BiometricUserID)
	assert.Equal(t, int32(2), calls.Load())
}

func TestStreamHTTP_TestConnection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, pass, _ := r.BasicAuth(); pass != "pw" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := NewStreamHTTP(Options{ProbeTimeout: time.Second})
	assert.True(t, a.TestConnection(t.Context(), streamDevice(srv.URL)))

	bad := streamDevice(srv.URL)
	bad.Password = "wrong"
	assert.False(t, a.TestConnection(t.Context(), bad))
	assert.False(t, a.TestConnection(t.Context(), storage.Device{ID: "nohost"}))
}

func TestStreamHTTP_FetchAttendanceRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != recordsPath {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		assert.Equal(t, "1700000000", r.URL.Query().Get("start"))
		fmt.Fprint(w, `{"records":[{"UserID":"42","UTC":1700000100,"EventType":"in"},{"UTC":1700000200},{"UserID":"43","UTC":1600000000}]}`)
	}))
	defer srv.Close()

	a := NewStreamHTTP(Options{})
	start := time.Unix(1700000000, 0)
	records, err := a.FetchAttendanceRecords(t.Context(), streamDevice(srv.URL), start, start.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "42", records[0].BiometricUserID)
	require.NotNil(t, records[0].EventType)

	ev := records[0].Event(streamDevice(srv.URL))
	assert.Equal(t, "acme", ev.CompanyID)
}

func TestStreamBlob_FractionalSeconds(t *testing.T) {
	var b streamBlob
	require.NoError(t, json.Unmarshal([]byte(`{"UserID":"42","UTC":1700000000.5}`), &b))
	r, err := b.record()
	require.NoError(t, err)
	assert.Equal(t, time.UnixMilli(1700000000500).UTC(), r.Timestamp)
}
