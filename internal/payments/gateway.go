package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Gateway is the partner boundary: the core only needs order creation;
// the checkout UI and capture happen on the gateway's side and come
// back as a signed callback.
type Gateway interface {
	CreateOrder(ctx context.Context, amountPaise int64, currency, receipt string) (gatewayOrderID string, err error)
}

// Sign computes the callback signature: hex HMAC-SHA256 over
// "gatewayOrderID|gatewayPaymentID" with the shared secret.
func Sign(secret, gatewayOrderID, gatewayPaymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(gatewayOrderID + "|" + gatewayPaymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature recomputes the expected signature and compares in
// constant time. This check is load-bearing: it must pass before any
// commit, regardless of what the gateway SDK claims.
func VerifySignature(secret, gatewayOrderID, gatewayPaymentID, signature string) bool {
	expected := Sign(secret, gatewayOrderID, gatewayPaymentID)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// RESTGateway talks to the gateway's order API with basic auth.
type RESTGateway struct {
	BaseURL string
	KeyID   string
	Secret  string
	Client  *http.Client
}

func NewRESTGateway(baseURL, keyID, secret string) *RESTGateway {
	return &RESTGateway{
		BaseURL: baseURL,
		KeyID:   keyID,
		Secret:  secret,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type gatewayOrderReq struct {
	AmountPaise int64  `json:"amount"`
	Currency    string `json:"currency"`
	Receipt     string `json:"receipt"`
}

type gatewayOrderResp struct {
	ID string `json:"id"`
}

func (g *RESTGateway) CreateOrder(ctx context.Context, amountPaise int64, currency, receipt string) (string, error) {
	body, err := json.Marshal(gatewayOrderReq{AmountPaise: amountPaise, Currency: currency, Receipt: receipt})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(g.KeyID, g.Secret)

	resp, err := g.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("gateway create order: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("gateway create order: status %d", resp.StatusCode)
	}
	var out gatewayOrderResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("gateway create order: decode: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("gateway create order: empty order id")
	}
	return out.ID, nil
}
