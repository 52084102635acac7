package scanner

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/goatnetwork/note-wallet/internal/chainclient"
	"github.com/goatnetwork/note-wallet/internal/config"
	"github.com/goatnetwork/note-wallet/internal/db"
	"github.com/goatnetwork/note-wallet/internal/state"
	"github.com/goatnetwork/note-wallet/internal/syncplan"
	"github.com/lightningnetwork/lnd/clock"
	log "github.com/sirupsen/logrus"
)

// PerformanceReport is published as ScanPerformance for large scan batches
type PerformanceReport struct {
	Device        chainclient.ScanDevice `json:"device"`
	Records       int                    `json:"records"`
	TotalTime     time.Duration          `json:"total_time"`
	TimePerRecord time.Duration          `json:"time_per_record"`
}

type Orchestrator struct {
	state   *state.State
	clients *chainclient.Manager
	scanner Scanner
	clock   clock.Clock

	includeTagged  bool
	perfMinRecords int

	logger *log.Entry
}

func NewOrchestrator(st *state.State, clients *chainclient.Manager, clk clock.Clock) *Orchestrator {
	return &Orchestrator{
		state:          st,
		clients:        clients,
		scanner:        NewScanner(config.AppConfig.UseGPUScanner),
		clock:          clk,
		includeTagged:  config.AppConfig.IncludeTaggedRecords,
		perfMinRecords: config.AppConfig.ScanPerfMinRecords,
		logger: log.WithFields(log.Fields{
			"module": "scanner",
		}),
	}
}

// SyncOwnedRecords plans the missing ranges of the addresses in keys up to currentRecordId
// and runs the stepsPerRound most recent steps, stepsPerRound <= 0 runs the whole plan
func (o *Orchestrator) SyncOwnedRecords(ctx context.Context, keys map[string][]byte, currentRecordId uint64, stepsPerRound int, batchSize uint64) error {
	steps, err := syncplan.CreatePlan(ctx, o.state, sortedAddresses(keys), currentRecordId, batchSize)
	if err != nil {
		return fmt.Errorf("create sync plan: %w", err)
	}
	syncplan.SortForExecution(steps)
	if stepsPerRound > 0 && len(steps) > stepsPerRound {
		steps = steps[:stepsPerRound]
	}

	for _, step := range steps {
		o.logger.Debugf("Sync step %s", step)
		if err := o.DoOwnedSync(ctx, step.Start, step.End, subsetKeys(keys, step.AddressesToCheck)); err != nil {
			return err
		}
	}
	return nil
}

// DoOwnedSync scans [start, end) batch by batch. Each batch stores its owned records and a range
// ending right after the last retrieved id in one db transaction, so an interrupted step leaves
// an exact partial range.
func (o *Orchestrator) DoOwnedSync(ctx context.Context, start, end uint64, keys map[string][]byte) error {
	addresses := sortedAddresses(keys)
	if len(addresses) == 0 {
		return nil
	}

	for start < end {
		if err := ctx.Err(); err != nil {
			return err
		}

		from := start
		batch, err := chainclient.Call(ctx, o.clients, func(ctx context.Context, c chainclient.Client) ([]chainclient.RecordMetadata, error) {
			return c.GetRecordMetadata(ctx, from, end, o.includeTagged)
		})
		if err != nil {
			return fmt.Errorf("get record metadata [%d,%d): %w", from, end, err)
		}
		if len(batch) == 0 {
			break
		}
		lastId := batch[len(batch)-1].Id
		if lastId < from {
			return fmt.Errorf("record metadata out of range, last id %d below start %d", lastId, from)
		}

		began := o.clock.Now()
		owned, err := chainclient.Call(ctx, o.clients, func(ctx context.Context, c chainclient.Client) ([]chainclient.ScannedRecord, error) {
			return o.scanner.Scan(ctx, c, keys, batch)
		})
		if err != nil {
			o.logger.Errorf("Failed to scan records via %s: %v", o.scanner.Device(), err)
			return err
		}
		elapsed := o.clock.Now().Sub(began)

		syncs := make([]*db.RecordIdSync, 0, len(addresses))
		for _, address := range addresses {
			syncs = append(syncs, &db.RecordIdSync{Address: address, StartId: from, EndId: lastId + 1})
		}
		if err := o.state.SaveScanBatch(toOwnedRecords(owned), syncs); err != nil {
			return fmt.Errorf("save scan batch [%d,%d): %w", from, lastId+1, err)
		}

		if len(batch) > o.perfMinRecords {
			o.reportPerformance(len(batch), elapsed)
		}
		o.logger.Debugf("Scanned records [%d,%d), owned %d", from, lastId+1, len(owned))

		start = lastId + 1
	}

	for _, address := range addresses {
		if err := o.CompactAddress(address); err != nil {
			o.logger.Warnf("Compact record syncs of %s error: %v", address, err)
		}
	}
	return nil
}

// CompactAddress merges the touching ranges of address
func (o *Orchestrator) CompactAddress(address string) error {
	_, err := o.state.CompactRecordIdSyncs(address, syncplan.CompactRanges)
	return err
}

// SyncPercentages estimates the scan progress of every address
func (o *Orchestrator) SyncPercentages(addresses []string) (map[string]float64, error) {
	out := make(map[string]float64, len(addresses))
	for _, address := range addresses {
		recorded, err := o.state.GetRecordIdSyncs(address)
		if err != nil {
			return nil, err
		}
		bound, err := o.state.GetAccountCreationRecordId(address)
		if err != nil {
			return nil, err
		}
		out[address] = syncplan.EstimatedSyncFraction(recorded, bound, 0)
	}
	return out, nil
}

// ResyncAccount drops the scanned data of address, the next round rescans from its creation bound
func (o *Orchestrator) ResyncAccount(address string) error {
	return o.state.ResyncAccount(address)
}

// DeleteAccountData removes every row owned by address including its transactions
func (o *Orchestrator) DeleteAccountData(address string) error {
	if err := o.state.DeleteAccountData(address); err != nil {
		return err
	}
	return o.state.DeleteAccountTransactions(address)
}

func (o *Orchestrator) reportPerformance(records int, elapsed time.Duration) {
	report := PerformanceReport{
		Device:        o.scanner.Device(),
		Records:       records,
		TotalTime:     elapsed,
		TimePerRecord: elapsed / time.Duration(records),
	}
	o.logger.WithFields(log.Fields{
		"device":          report.Device,
		"records":         report.Records,
		"total_time":      report.TotalTime,
		"time_per_record": report.TimePerRecord,
	}).Info("Scan performance")
	o.state.EventBus.Publish(state.ScanPerformance, report)
}

func toOwnedRecords(owned []chainclient.ScannedRecord) []*db.OwnedRecord {
	records := make([]*db.OwnedRecord, 0, len(owned))
	for _, o := range owned {
		records = append(records, &db.OwnedRecord{
			Id:              o.Record.Id,
			Address:         o.Address,
			TransitionId:    o.Record.TransitionId,
			OutputIndex:     o.Record.OutputIndex,
			Nonce:           o.Record.Nonce,
			OwnerCommitment: o.Record.OwnerCommitment,
			Tag:             o.Record.Tag,
			RecordBytes:     o.Record.RecordBytes,
		})
	}
	return records
}

func sortedAddresses(keys map[string][]byte) []string {
	addresses := make([]string, 0, len(keys))
	for address := range keys {
		addresses = append(addresses, address)
	}
	sort.Strings(addresses)
	return addresses
}

func subsetKeys(keys map[string][]byte, addresses []string) map[string][]byte {
	subset := make(map[string][]byte, len(addresses))
	for _, address := range addresses {
		if key, ok := keys[address]; ok {
			subset[address] = key
		}
	}
	return subset
}
