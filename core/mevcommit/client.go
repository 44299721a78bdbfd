package mevcommit

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	pb "github.com/primev/mev-commit/p2p/gen/go/bidderapi/v1"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// DefaultBidAmount is 0.000001 ETH in wei.
const DefaultBidAmount = "1000000000000"

// Config holds the configuration settings.
type Config struct {
	ServerAddress string `json:"server_address" yaml:"server_address"`
	// Amount is the bid per transaction in wei.
	Amount string `json:"amount" yaml:"amount"`
}

var errBadAmount = errors.New("bid amount must be a positive integer in wei")

// Validate checks that the bid amount is a positive decimal integer.
func (c Config) Validate() error {
	amount, ok := new(big.Int).SetString(c.Amount, 10)
	if !ok || amount.Sign() <= 0 {
		return fmt.Errorf("%w: %q", errBadAmount, c.Amount)
	}
	return nil
}

// Bidder sends preconfirmation bids to a mev-commit bidder node.
type Bidder struct {
	conn   *grpc.ClientConn
	client pb.BidderClient
	amount string
	log    zerolog.Logger
	now    func() time.Time
}

// NewClient creates a new gRPC client connection to the bidder service and returns a bidder instance.
func NewClient(cfg Config, logger zerolog.Logger) (*Bidder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	conn, err := grpc.NewClient(cfg.ServerAddress, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to gRPC server: %w", err)
	}

	return &Bidder{
		conn:   conn,
		client: pb.NewBidderClient(conn),
		amount: cfg.Amount,
		log:    logger.With().Str("component", "mevcommit").Logger(),
		now:    time.Now,
	}, nil
}

// Close closes the gRPC connection to the bidder node.
func (b *Bidder) Close() error {
	return b.conn.Close()
}
