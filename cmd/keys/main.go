package keys

import (
	"context"
	"errors"
	"fmt"
	"strings"

	logger "github.com/sirupsen/logrus"

	"tradeexecutor/src/connectors"
	"tradeexecutor/src/model"
)

var ErrMissingCredentials = errors.New("api key and secret are required")

type venueStore interface {
	GetByVenue(ctx context.Context, venue string) (*model.VenueConnection, error)
	Upsert(ctx context.Context, c *model.VenueConnection) error
}

type encrypter interface {
	Encrypt(plain string) (string, error)
}

// KeyInput is one venue's credentials in plain text.
type KeyInput struct {
	Venue      string
	APIKey     string
	APISecret  string
	Passphrase string
	TradeType  string
	BaseURL    string
}

// SetKey encrypts the credentials and stores them for the venue.
func SetKey(ctx context.Context, store venueStore, cipher encrypter, in KeyInput, connect bool) error {
	venue := strings.ToLower(strings.TrimSpace(in.Venue))
	switch venue {
	case connectors.VenueBinance, connectors.VenueKucoin, connectors.VenuePhemex, connectors.VenueKraken:
	default:
		return fmt.Errorf("%w: %q", connectors.ErrUnknownVenue, in.Venue)
	}
	if in.APIKey == "" || in.APISecret == "" {
		return ErrMissingCredentials
	}
	tradeType := strings.ToLower(in.TradeType)
	if tradeType == "" {
		tradeType = model.TradeTypeSpot
	}
	if tradeType != model.TradeTypeSpot && tradeType != model.TradeTypeFutures {
		return fmt.Errorf("trade type must be spot or futures, got %q", in.TradeType)
	}

	conn := &model.VenueConnection{
		Venue:            venue,
		DefaultTradeType: tradeType,
		BaseURL:          in.BaseURL,
		Connected:        connect,
	}
	var err error
	if conn.APIKeyHash, err = cipher.Encrypt(in.APIKey); err != nil {
		return fmt.Errorf("encrypt key: %w", err)
	}
	if conn.APISecretHash, err = cipher.Encrypt(in.APISecret); err != nil {
		return fmt.Errorf("encrypt secret: %w", err)
	}
	if conn.APIPassphraseHash, err = cipher.Encrypt(in.Passphrase); err != nil {
		return fmt.Errorf("encrypt passphrase: %w", err)
	}

	if err := store.Upsert(ctx, conn); err != nil {
		logger.WithError(err).WithField("venue", venue).Error("Failed to upsert venue connection")
		return err
	}
	return nil
}

// SetConnected turns trading on or off for a venue that already has keys.
func SetConnected(ctx context.Context, store venueStore, venue string, connected bool) error {
	conn, err := store.GetByVenue(ctx, venue)
	if err != nil {
		return err
	}
	if conn == nil || conn.APIKeyHash == "" || conn.APISecretHash == "" {
		return fmt.Errorf("no keys stored for %s", venue)
	}
	conn.ID = 0 // upsert keys on venue
	conn.Connected = connected
	return store.Upsert(ctx, conn)
}
