package notes

import (
	"context"

	"github.com/goatnetwork/note-wallet/internal/chainclient"
	"github.com/goatnetwork/note-wallet/internal/db"
	"github.com/goatnetwork/note-wallet/internal/state"
	log "github.com/sirupsen/logrus"
)

// ConsumableNote is a note the account can claim, Amount is in base units
type ConsumableNote struct {
	Id             string             `json:"id"`
	FaucetId       string             `json:"faucet_id"`
	Amount         string             `json:"amount"`
	SenderAddress  string             `json:"sender_address"`
	IsBeingClaimed bool               `json:"is_being_claimed"`
	Metadata       *db.FaucetMetadata `json:"metadata"`
}

type ClaimableNotes struct {
	state   *state.State
	clients *chainclient.Manager
	fetcher *MetadataFetcher
	logger  *log.Entry
}

func NewClaimableNotes(st *state.State, clients *chainclient.Manager, fetcher *MetadataFetcher) *ClaimableNotes {
	return &ClaimableNotes{
		state:   st,
		clients: clients,
		fetcher: fetcher,
		logger: log.WithFields(log.Fields{
			"module": "notes",
		}),
	}
}

// Get returns the consumable notes of address that carry a fungible asset with known metadata.
// Notes of faucets without cached metadata are left out and their metadata is fetched in the background.
func (c *ClaimableNotes) Get(ctx context.Context, address string) ([]ConsumableNote, error) {
	raw, err := chainclient.Call(ctx, c.clients, func(ctx context.Context, client chainclient.Client) ([]chainclient.ConsumableNote, error) {
		if _, err := client.SyncState(ctx); err != nil {
			return nil, err
		}
		return client.GetConsumableNotes(ctx, address)
	})
	if err != nil {
		return nil, err
	}

	uncompleted, err := c.state.GetUncompletedTransactions(address)
	if err != nil {
		return nil, err
	}
	beingClaimed := make(map[string]struct{})
	for _, tx := range uncompleted {
		if tx.Type != db.TX_TYPE_CONSUME {
			continue
		}
		for _, noteId := range tx.InputNoteIds {
			beingClaimed[noteId] = struct{}{}
		}
	}

	notes := make([]ConsumableNote, 0, len(raw))
	faucetIds := make([]string, 0, len(raw))
	for _, n := range raw {
		asset, ok := firstFungible(n.Assets)
		if !ok {
			c.logger.Debugf("Note %s has no fungible asset, skip", n.Id)
			continue
		}
		_, claiming := beingClaimed[n.Id]
		notes = append(notes, ConsumableNote{
			Id:             n.Id,
			FaucetId:       asset.FaucetId,
			Amount:         asset.Amount,
			SenderAddress:  n.SenderAddress,
			IsBeingClaimed: claiming,
		})
		faucetIds = append(faucetIds, asset.FaucetId)
	}

	metadata, err := c.state.GetFaucetMetadataMap(faucetIds)
	if err != nil {
		return nil, err
	}

	var missing []string
	ready := notes[:0]
	for _, n := range notes {
		m, ok := metadata[n.FaucetId]
		if !ok {
			missing = append(missing, n.FaucetId)
			continue
		}
		n.Metadata = m
		ready = append(ready, n)
	}
	if len(missing) > 0 {
		c.fetcher.Enqueue(missing...)
	}
	return ready, nil
}

func firstFungible(assets []chainclient.Asset) (chainclient.Asset, bool) {
	for _, a := range assets {
		if a.Fungible {
			return a, true
		}
	}
	return chainclient.Asset{}, false
}
