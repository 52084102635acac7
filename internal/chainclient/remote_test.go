package chainclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sugawarayuuta/sonnet"
)

func newDaemon(t *testing.T, routes map[string]string) (*httptest.Server, *atomic.Int32) {
	var closed atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete && r.URL.Path == SessionPath {
			closed.Add(1)
			w.WriteHeader(http.StatusOK)
			return
		}
		if r.URL.Path != SessionPath {
			assert.Equal(t, "sess-1", r.Header.Get(SessionHeader))
		}
		body, ok := routes[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"status":"error","error":"unknown method"}`)
			return
		}
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &closed
}

func TestRemoteClientSession(t *testing.T) {
	srv, closed := newDaemon(t, map[string]string{
		SessionPath:   `{"status":"success","data":"sess-1"}`,
		SyncStatePath: `{"status":"success","data":{"block_num":120,"current_record_id":4096}}`,
		ConsumableNotesPath: `{"status":"success","data":[
			{"id":"0xnote","sender_address":"0xsender","assets":[{"faucet_id":"0xfaucet","amount":"42","fungible":true}]}
		]}`,
	})

	ctx := context.Background()
	c, err := NewRemoteClient(ctx, srv.URL+"/", &Options{Seed: []byte{1, 2}})
	require.NoError(t, err)

	summary, err := c.SyncState(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(120), summary.BlockNum)
	assert.Equal(t, uint64(4096), summary.CurrentRecordId)

	notes, err := c.GetConsumableNotes(ctx, "0xaddr")
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "42", notes[0].Assets[0].Amount)

	_, err = c.GetAccount(ctx, "0xmissing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown method")

	require.NoError(t, c.Close())
	assert.Equal(t, int32(1), closed.Load())
	require.NoError(t, c.Close())
	assert.Equal(t, int32(1), closed.Load())
}

func TestRemoteClientScanRequestEncoding(t *testing.T) {
	var got ScanRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case SessionPath:
			_, _ = io.WriteString(w, `{"status":"success","data":"sess-1"}`)
		case ScanRecordsPath:
			raw, _ := io.ReadAll(r.Body)
			assert.NoError(t, sonnet.Unmarshal(raw, &got))
			_, _ = io.WriteString(w, `{"status":"success","data":[{"address":"0xa","record":{"id":7}}]}`)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	c, err := NewRemoteClient(ctx, srv.URL, nil)
	require.NoError(t, err)

	owned, err := c.ScanRecords(ctx, ScanRequest{
		Device:  SCAN_DEVICE_GPU,
		Keys:    map[string][]byte{"0xa": {7}},
		Records: []RecordMetadata{{Id: 7}, {Id: 8}},
	})
	require.NoError(t, err)
	require.Len(t, owned, 1)
	assert.Equal(t, uint64(7), owned[0].Record.Id)
	assert.Equal(t, SCAN_DEVICE_GPU, got.Device)
	assert.Len(t, got.Records, 2)
}

func TestRemoteClientConnectivityCallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"status":"success","data":"sess-1"}`)
	}))
	var issues atomic.Int32
	ctx := context.Background()
	c, err := NewRemoteClient(ctx, srv.URL, &Options{OnConnectivityIssue: func() { issues.Add(1) }})
	require.NoError(t, err)

	srv.Close()
	_, err = c.SyncState(ctx)
	require.Error(t, err)
	assert.Equal(t, int32(1), issues.Load())
}

func TestRemoteClientPrivateNoteDelivery(t *testing.T) {
	var sent struct {
		NoteBytes []byte `json:"note_bytes"`
		Recipient string `json:"recipient"`
	}
	var exportType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		switch r.URL.Path {
		case SessionPath:
			_, _ = io.WriteString(w, `{"status":"success","data":"sess-1"}`)
		case ExportNotePath:
			var req map[string]string
			assert.NoError(t, sonnet.Unmarshal(raw, &req))
			exportType = req["export_type"]
			_, _ = io.WriteString(w, `{"status":"success","data":"AQID"}`)
		case WaitTxCommitPath:
			_, _ = io.WriteString(w, `{"status":"error","error":"Timeout waiting for transaction commit"}`)
		case SendPrivateNotePath:
			assert.NoError(t, sonnet.Unmarshal(raw, &sent))
			_, _ = io.WriteString(w, `{"status":"success","data":true}`)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	c, err := NewRemoteClient(ctx, srv.URL, nil)
	require.NoError(t, err)

	err = c.WaitForTransactionCommit(ctx, "0xtx")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Timeout waiting for transaction commit")

	note, err := c.ExportNote(ctx, "0xnote", NOTE_EXPORT_FULL)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, note)
	assert.Equal(t, NOTE_EXPORT_FULL, exportType)

	require.NoError(t, c.SendPrivateNote(ctx, note, "0xbob"))
	assert.Equal(t, []byte{1, 2, 3}, sent.NoteBytes)
	assert.Equal(t, "0xbob", sent.Recipient)
}
