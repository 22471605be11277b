package connectors

import (
	"bytes"
	"encoding/base64"
	"testing"

	"tradeexecutor/src/model"
	"tradeexecutor/src/security"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCipher(t *testing.T) *security.Cipher {
	t.Helper()
	c, err := security.NewCipher(base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{7}, 32)))
	require.NoError(t, err)
	return c
}

func encrypted(t *testing.T, c *security.Cipher, s string) string {
	t.Helper()
	out, err := c.Encrypt(s)
	require.NoError(t, err)
	return out
}

func TestRegistry_GetUnknownVenue(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Get("ftx")
	require.ErrorIs(t, err, ErrUnknownVenue)
}

func TestBuildGateway_TaggedDispatch(t *testing.T) {
	cfg := Config{}
	for _, venue := range []string{VenueBinance, VenueKucoin, VenuePhemex, VenueKraken} {
		gw, err := BuildGateway(venue, Credentials{APIKey: "k", APISecret: "s"}, "spot", "", cfg, testPaper())
		require.NoError(t, err)
		assert.Equal(t, venue, gw.Name())
	}

	_, err := BuildGateway("mtgox", Credentials{}, "spot", "", cfg, testPaper())
	require.ErrorIs(t, err, ErrUnknownVenue)
}

func TestLoadRegistry(t *testing.T) {
	c := testCipher(t)
	conns := []model.VenueConnection{
		{Venue: VenueKraken, APIKeyHash: encrypted(t, c, "key"), APISecretHash: encrypted(t, c, "c2VjcmV0"), Connected: true},
		{Venue: "KuCoin", APIKeyHash: encrypted(t, c, "key"), APISecretHash: encrypted(t, c, "secret"), APIPassphraseHash: encrypted(t, c, "pass"), DefaultTradeType: "futures", Connected: true},
		{Venue: VenuePhemex, Connected: false},
		{Venue: VenueBinance, APIKeyHash: "not-ciphertext", Connected: true},
		{Venue: "mtgox", Connected: true},
	}

	reg := LoadRegistry(conns, c, Config{}, testPaper())
	assert.Equal(t, []string{VenueKraken, VenueKucoin}, reg.Venues())

	gw, err := reg.Get("KRAKEN")
	require.NoError(t, err)
	kr := gw.(*KrakenGateway)
	assert.Equal(t, "key", kr.apiKey)
	assert.Equal(t, "c2VjcmV0", kr.apiSecret)
}
