package mevcommit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	pb "github.com/primev/mev-commit/p2p/gen/go/bidderapi/v1"
)

// Bids decay linearly from decayOffset before submission to decayOffset after.
const decayOffset = 8 * time.Second

// SendBid bids for inclusion of txHashes in blockNumber and reads commitments
// until the node closes the stream. It returns the number of commitments.
func (b *Bidder) SendBid(ctx context.Context, txHashes []string, blockNumber int64) (int, error) {
	bid := newBid(txHashes, b.amount, blockNumber, b.now())

	stream, err := b.client.SendBid(ctx, bid)
	if err != nil {
		return 0, fmt.Errorf("failed to send bid: %w", err)
	}

	commitments := 0
	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return commitments, fmt.Errorf("failed to receive bid response: %w", err)
		}
		commitments++
		b.log.Info().
			Strs("txHashes", bid.TxHashes).
			Int64("blockNumber", blockNumber).
			Interface("commitment", msg).
			Msg("received preconf commitment")
	}
	return commitments, nil
}

// newBid builds the bid request. The bidder API expects hashes without 0x.
func newBid(txHashes []string, amount string, blockNumber int64, now time.Time) *pb.Bid {
	hashes := make([]string, 0, len(txHashes))
	for _, h := range txHashes {
		hashes = append(hashes, strings.TrimPrefix(h, "0x"))
	}

	currentTime := now.UnixMilli()
	return &pb.Bid{
		TxHashes:            hashes,
		Amount:              amount,
		BlockNumber:         blockNumber,
		DecayStartTimestamp: currentTime - decayOffset.Milliseconds(),
		DecayEndTimestamp:   currentTime + decayOffset.Milliseconds(),
	}
}
