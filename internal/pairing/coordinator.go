package pairing

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/pocketbridge/sync-core/internal/crypto"
	"github.com/pocketbridge/sync-core/internal/identity"
)

// ErrRateLimited is returned by Share when the local 3-per-hour code
// generation cap (§4.7) has been exceeded.
var ErrRateLimited = errors.New("pairing: code generation rate limit exceeded")

// shareData is the payload handed to the relay's pairing store; the
// private key lets the receiving device adopt the same identity (§4.7).
type shareData struct {
	IdentityPrivateKeyHex string `json:"identityPrivateKeyHex"`
	WsURL                 string `json:"wsUrl,omitempty"`
	DeviceName            string `json:"deviceName,omitempty"`
}

// Reconnector is notified after a successful Receive so the Connection
// Manager can apply the newly adopted identity and endpoint (§4.7:
// "persist the received wsUrl ... and prompt the Connection Manager to
// reconnect"). Satisfied directly by connection.Manager; kept as an
// interface here to avoid an import cycle.
type Reconnector interface {
	RequestRotation()
	SetWsURL(url string)
}

// Coordinator is the client-side Pairing Coordinator (§4.7): Share
// generates a code and deposits identity material under it; Receive
// consumes a code and, if the identity differs, adopts it locally.
type Coordinator struct {
	apiURL      string
	httpClient  *http.Client
	idStore     *identity.Store
	deviceStore *identity.DeviceStore
	deviceName  string
	limiter     *rate.Limiter
	reconnect   Reconnector
}

// New constructs a Coordinator targeting apiURL (the relay's pairing API
// root, e.g. "https://relay.example.com/api"). The local rate limiter
// enforces §4.7's "3 per hour per device" code-generation cap (rate.Every
// spaces one token every 20 minutes, burst 3, so a caller can spend all
// three immediately and then waits for the bucket to refill — the same
// token-bucket shape as the teacher's portal/utils/ratelimit.Bucket,
// expressed with x/time/rate instead of a hand-rolled bucket).
func New(apiURL string, idStore *identity.Store, deviceStore *identity.DeviceStore, deviceName string, reconnect Reconnector) *Coordinator {
	return &Coordinator{
		apiURL:      apiURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		idStore:     idStore,
		deviceStore: deviceStore,
		deviceName:  deviceName,
		limiter:     rate.NewLimiter(rate.Every(20*time.Minute), 3),
		reconnect:   reconnect,
	}
}

// Share generates a random 6-digit code, POSTs the local identity's
// private key (plus wsURL/device name hints) to the relay's pairing
// store, and returns the code and its expiry (§4.7).
func (c *Coordinator) Share(ctx context.Context, wsURL string) (code string, expiresAt int64, err error) {
	if !c.limiter.Allow() {
		return "", 0, ErrRateLimited
	}

	code, err = newSixDigitCode()
	if err != nil {
		return "", 0, err
	}

	data, err := json.Marshal(shareData{
		IdentityPrivateKeyHex: c.idStore.Identity().PrivateKeyHex(),
		WsURL:                 wsURL,
		DeviceName:            c.deviceName,
	})
	if err != nil {
		return "", 0, err
	}

	body, err := json.Marshal(storeRequest{Code: code, Data: data})
	if err != nil {
		return "", 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/pairing/store", bytes.NewReader(body))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", c.idStore.UserID())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("pairing: store returned %d", resp.StatusCode)
	}

	var out struct {
		OK        bool  `json:"ok"`
		ExpiresAt int64 `json:"expiresAt"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", 0, err
	}
	return code, out.ExpiresAt, nil
}

// Receive looks the code up at the relay; on success, if the received
// identity differs from the local one, it replaces the local keypair,
// invalidates the cached Shared Encryption Key (via Store.Reset), and
// requests a reconnect (§4.7).
func (c *Coordinator) Receive(ctx context.Context, code string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"/pairing/lookup/"+code, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("pairing: code %q not found or expired", code)
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("pairing: lookup returned %d: %s", resp.StatusCode, raw)
	}

	var out struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return err
	}

	var shared shareData
	if err := json.Unmarshal(out.Data, &shared); err != nil {
		return err
	}

	received, err := crypto.IdentityFromPrivateKeyHex(shared.IdentityPrivateKeyHex)
	if err != nil {
		return err
	}

	if received.PublicKeyHex() != c.idStore.UserID() {
		if err := c.idStore.Reset(received); err != nil {
			return err
		}
	}

	// Persist the pairing-supplied endpoint and device-name suggestion
	// (§3 "Pairing Token", §4.7, §6's `ws_url` key) regardless of whether
	// the identity itself changed — a re-pair onto the same identity can
	// still carry a fresher relay endpoint.
	if c.deviceStore != nil {
		if shared.WsURL != "" {
			if err := c.deviceStore.SetWsURL(shared.WsURL); err != nil {
				return err
			}
		}
		if shared.DeviceName != "" {
			if err := c.deviceStore.SetSuggestedDeviceName(shared.DeviceName); err != nil {
				return err
			}
		}
	}

	if c.reconnect != nil {
		if shared.WsURL != "" {
			c.reconnect.SetWsURL(shared.WsURL)
		}
		c.reconnect.RequestRotation()
	}
	return nil
}

func newSixDigitCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
