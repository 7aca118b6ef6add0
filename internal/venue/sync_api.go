package venue

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/stratolabs/obmirror/internal/domain"
)

// SyncAPI fetches out-of-band REST snapshots from the venue. Grounded on
// the teacher's BinanceSyncAPI.OrderBookSnapshot, generalized from the
// teacher's persistent-websocket request/response shape to the plain REST
// call spec §6 documents: GET <rest_base>/fapi/v1/depth?symbol=X&limit=N.
type SyncAPI struct {
	baseURL string
	client  *http.Client
}

func NewSyncAPI(baseURL string) *SyncAPI {
	return &SyncAPI{
		baseURL: baseURL,
		client: &http.Client{
			Timeout:   10 * time.Second,
			Transport: &http.Transport{Proxy: http.ProxyFromEnvironment},
		},
	}
}

// GetSnapshot issues the snapshot request for symbol and returns the
// parsed envelope, used by Client.Bootstrap when BootstrapSnapshot mode
// is configured (spec §9 Open Question).
func (s *SyncAPI) GetSnapshot(symbol domain.Symbol, limit int) (domain.SnapshotEnvelope, error) {
	url := fmt.Sprintf("%s/fapi/v1/depth?symbol=%s&limit=%d", s.baseURL, symbol.Upper(), limit)

	resp, err := s.client.Get(url)
	if err != nil {
		return domain.SnapshotEnvelope{}, fmt.Errorf("venue: snapshot request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.SnapshotEnvelope{}, fmt.Errorf("venue: reading snapshot body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.SnapshotEnvelope{}, fmt.Errorf("venue: snapshot request returned %d: %s", resp.StatusCode, string(body))
	}

	var parsed restSnapshotMsg
	if err := json.Unmarshal(body, &parsed); err != nil {
		return domain.SnapshotEnvelope{}, fmt.Errorf("venue: decoding snapshot: %w", err)
	}

	return domain.SnapshotEnvelope{
		LastUpdateID: parsed.LastUpdateID,
		Bids:         parsed.Bids,
		Asks:         parsed.Asks,
	}, nil
}
