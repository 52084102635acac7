package syncplan

import (
	"context"
	"fmt"
	"sort"

	"github.com/goatnetwork/note-wallet/internal/db"
	log "github.com/sirupsen/logrus"
)

// Step is a planned scan of record ids [Start, End) for AddressesToCheck
type Step struct {
	Start            uint64
	End              uint64
	AddressesToCheck []string
}

func (s Step) String() string {
	return fmt.Sprintf("[%d,%d) x%d", s.Start, s.End, len(s.AddressesToCheck))
}

// RangeStore is the part of the local store the planner reads
type RangeStore interface {
	GetRecordIdSyncs(address string) ([]db.RecordIdSync, error)
	GetAccountCreationRecordId(address string) (uint64, error)
}

// CreatePlan returns the steps needed to bring addresses up to target, chunked by batchSize,
// with identical ranges of different addresses merged into one step
func CreatePlan(ctx context.Context, store RangeStore, addresses []string, target, batchSize uint64) ([]Step, error) {
	var steps []Step
	for _, address := range addresses {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		bound, err := store.GetAccountCreationRecordId(address)
		if err != nil {
			return nil, fmt.Errorf("get creation bound of %s: %w", address, err)
		}
		recorded, err := store.GetRecordIdSyncs(address)
		if err != nil {
			return nil, fmt.Errorf("get record syncs of %s: %w", address, err)
		}
		for _, step := range SingleSyncPlan(address, bound, recorded, target) {
			steps = append(steps, ChunkStep(step, batchSize)...)
		}
	}
	return CombineMatchingSteps(steps), nil
}

// SingleSyncPlan returns the ranges of [bound, target] not covered by recorded.
// Malformed ranges are dropped and overlapping ones are folded, nothing below bound is planned.
func SingleSyncPlan(address string, bound uint64, recorded []db.RecordIdSync, target uint64) []Step {
	ranges := validRanges(address, recorded)
	head := target + 1

	if len(ranges) == 0 {
		if bound >= head {
			return nil
		}
		return []Step{{Start: bound, End: head, AddressesToCheck: []string{address}}}
	}

	var steps []Step
	frontier := bound
	for _, r := range ranges {
		if r.StartId > frontier {
			steps = append(steps, Step{Start: frontier, End: r.StartId, AddressesToCheck: []string{address}})
		}
		if r.EndId > frontier {
			frontier = r.EndId
		}
	}
	if frontier < head {
		steps = append(steps, Step{Start: frontier, End: head, AddressesToCheck: []string{address}})
	}
	return steps
}

// ChunkStep splits step on multiples of batchSize, so a range chunks the same way whichever step produced it
func ChunkStep(step Step, batchSize uint64) []Step {
	if batchSize == 0 || step.Start >= step.End {
		return []Step{step}
	}
	var chunks []Step
	for start := step.Start; start < step.End; {
		end := (start/batchSize + 1) * batchSize
		if end > step.End {
			end = step.End
		}
		chunks = append(chunks, Step{Start: start, End: end, AddressesToCheck: step.AddressesToCheck})
		start = end
	}
	return chunks
}

// CombineMatchingSteps merges steps with the same range, keeping first seen order of steps and addresses
func CombineMatchingSteps(steps []Step) []Step {
	type key struct{ start, end uint64 }
	index := make(map[key]int, len(steps))
	seen := make(map[key]map[string]struct{}, len(steps))

	combined := make([]Step, 0, len(steps))
	for _, step := range steps {
		k := key{step.Start, step.End}
		i, ok := index[k]
		if !ok {
			i = len(combined)
			index[k] = i
			seen[k] = make(map[string]struct{})
			combined = append(combined, Step{Start: step.Start, End: step.End})
		}
		for _, address := range step.AddressesToCheck {
			if _, dup := seen[k][address]; dup {
				continue
			}
			seen[k][address] = struct{}{}
			combined[i].AddressesToCheck = append(combined[i].AddressesToCheck, address)
		}
	}
	return combined
}

// SortForExecution orders steps by descending end, most recent records first
func SortForExecution(steps []Step) {
	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].End > steps[j].End
	})
}

// CompactRanges merges touching or overlapping ranges, the result is sorted by start
func CompactRanges(address string, recorded []db.RecordIdSync) []db.RecordIdSync {
	ranges := validRanges(address, recorded)
	var compacted []db.RecordIdSync
	for _, r := range ranges {
		if n := len(compacted); n > 0 && r.StartId <= compacted[n-1].EndId {
			if r.EndId > compacted[n-1].EndId {
				compacted[n-1].EndId = r.EndId
			}
			continue
		}
		compacted = append(compacted, db.RecordIdSync{Address: address, StartId: r.StartId, EndId: r.EndId})
	}
	return compacted
}

// EstimatedSyncFraction is the share of [bound, latest end) covered by recorded, defaultFraction when nothing is recorded
func EstimatedSyncFraction(recorded []db.RecordIdSync, bound uint64, defaultFraction float64) float64 {
	if len(recorded) == 0 {
		return defaultFraction
	}
	var latest, covered uint64
	for _, r := range CompactRanges("", recorded) {
		if r.EndId > latest {
			latest = r.EndId
		}
		start := r.StartId
		if start < bound {
			start = bound
		}
		if r.EndId > start {
			covered += r.EndId - start
		}
	}
	if latest <= bound {
		return 1
	}
	fraction := float64(covered) / float64(latest-bound)
	if fraction > 1 {
		return 1
	}
	return fraction
}

func validRanges(address string, recorded []db.RecordIdSync) []db.RecordIdSync {
	ranges := make([]db.RecordIdSync, 0, len(recorded))
	for _, r := range recorded {
		if r.StartId >= r.EndId {
			log.Warnf("Drop malformed record sync of %s: [%d,%d)", address, r.StartId, r.EndId)
			continue
		}
		ranges = append(ranges, r)
	}
	sort.SliceStable(ranges, func(i, j int) bool {
		return ranges[i].StartId < ranges[j].StartId
	})
	return ranges
}
