package scanner

import (
	"context"

	"github.com/goatnetwork/note-wallet/internal/chainclient"
)

// Scanner decides which records belong to the addresses of keys.
// Implementations call the client and must run under the client serializer.
type Scanner interface {
	Device() chainclient.ScanDevice
	Scan(ctx context.Context, c chainclient.Client, keys map[string][]byte, records []chainclient.RecordMetadata) ([]chainclient.ScannedRecord, error)
}

func NewScanner(useGPU bool) Scanner {
	if useGPU {
		return gpuScanner{}
	}
	return cpuScanner{}
}

type cpuScanner struct{}

func (cpuScanner) Device() chainclient.ScanDevice { return chainclient.SCAN_DEVICE_CPU }

func (s cpuScanner) Scan(ctx context.Context, c chainclient.Client, keys map[string][]byte, records []chainclient.RecordMetadata) ([]chainclient.ScannedRecord, error) {
	return c.ScanRecords(ctx, chainclient.ScanRequest{Device: s.Device(), Keys: keys, Records: records})
}

// gpuScanner batches trial decryption on the daemon's gpu, records are sent in fixed size slices
type gpuScanner struct{}

const gpuScanSlice = 4096

func (gpuScanner) Device() chainclient.ScanDevice { return chainclient.SCAN_DEVICE_GPU }

func (s gpuScanner) Scan(ctx context.Context, c chainclient.Client, keys map[string][]byte, records []chainclient.RecordMetadata) ([]chainclient.ScannedRecord, error) {
	var owned []chainclient.ScannedRecord
	for start := 0; start < len(records); start += gpuScanSlice {
		end := start + gpuScanSlice
		if end > len(records) {
			end = len(records)
		}
		found, err := c.ScanRecords(ctx, chainclient.ScanRequest{Device: s.Device(), Keys: keys, Records: records[start:end]})
		if err != nil {
			return nil, err
		}
		owned = append(owned, found...)
	}
	return owned, nil
}
