package connectors

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"tradeexecutor/src/model"
	"tradeexecutor/src/security"

	logger "github.com/sirupsen/logrus"
)

// Registry resolves a venue tag to its Gateway.
type Registry struct {
	mu       sync.RWMutex
	gateways map[string]Gateway
}

func NewRegistry(gateways ...Gateway) *Registry {
	r := &Registry{gateways: make(map[string]Gateway)}
	for _, gw := range gateways {
		r.Register(gw)
	}
	return r
}

func (r *Registry) Register(gw Gateway) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gateways[strings.ToLower(gw.Name())] = gw
}

func (r *Registry) Get(venue string) (Gateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	gw, ok := r.gateways[strings.ToLower(venue)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVenue, venue)
	}
	return gw, nil
}

// Venues returns the registered venue tags, sorted.
func (r *Registry) Venues() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.gateways))
	for v := range r.gateways {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Credentials are the decrypted secrets of one venue account.
type Credentials struct {
	APIKey        string
	APISecret     string
	APIPassphrase string
}

// BuildGateway constructs the adapter for a venue tag.
func BuildGateway(venue string, creds Credentials, defaultTradeType, baseURL string, cfg Config, paper *PaperTrader) (Gateway, error) {
	switch strings.ToLower(venue) {
	case VenueBinance:
		if baseURL == "" {
			baseURL = cfg.BinanceBaseURL
		}
		return NewBinanceGateway(creds.APIKey, creds.APISecret, baseURL, paper), nil
	case VenueKucoin:
		spot, fut := cfg.KucoinSpotURL, cfg.KucoinFutURL
		if baseURL != "" {
			spot = baseURL
		}
		return NewKucoinGateway(creds.APIKey, creds.APISecret, creds.APIPassphrase, spot, fut, defaultTradeType, paper), nil
	case VenuePhemex:
		if baseURL == "" {
			baseURL = cfg.PhemexBaseURL
		}
		return NewPhemexGateway(creds.APIKey, creds.APISecret, baseURL, paper), nil
	case VenueKraken:
		if baseURL == "" {
			baseURL = cfg.KrakenBaseURL
		}
		return NewKrakenGateway(creds.APIKey, creds.APISecret, baseURL, paper), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownVenue, venue)
	}
}

// LoadRegistry builds gateways for the connected venue rows. A row that
// cannot be decrypted or built is skipped and logged.
func LoadRegistry(conns []model.VenueConnection, cipher *security.Cipher, cfg Config, paper *PaperTrader) *Registry {
	reg := NewRegistry()
	for _, c := range conns {
		if !c.Connected {
			continue
		}
		log := logger.WithField("venue", c.Venue)

		creds, err := decryptCredentials(cipher, c)
		if err != nil {
			log.WithError(err).Error("cannot decrypt venue credentials")
			continue
		}
		gw, err := BuildGateway(c.Venue, creds, c.DefaultTradeType, c.BaseURL, cfg, paper)
		if err != nil {
			log.WithError(err).Error("cannot build venue gateway")
			continue
		}
		reg.Register(gw)
	}
	return reg
}

func decryptCredentials(cipher *security.Cipher, c model.VenueConnection) (Credentials, error) {
	var (
		creds Credentials
		err   error
	)
	if creds.APIKey, err = cipher.Decrypt(c.APIKeyHash); err != nil {
		return creds, fmt.Errorf("api key: %w", err)
	}
	if creds.APISecret, err = cipher.Decrypt(c.APISecretHash); err != nil {
		return creds, fmt.Errorf("api secret: %w", err)
	}
	if creds.APIPassphrase, err = cipher.Decrypt(c.APIPassphraseHash); err != nil {
		return creds, fmt.Errorf("api passphrase: %w", err)
	}
	return creds, nil
}
