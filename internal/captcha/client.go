package captcha

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Sentinel errors for challenge provider failures. Callers treat every one
// of them as "challenge not passed"; the sentinels exist for logging.
var (
	ErrNotConfigured = errors.New("challenge provider not configured")
	ErrUnreachable   = errors.New("challenge provider unreachable")
	ErrTimeout       = errors.New("challenge provider timeout")
	ErrBadResponse   = errors.New("challenge provider bad response")
)

// Proof is the field set the provider's widget hands back after an end user
// completes the challenge.
type Proof struct {
	LotNumber     string `json:"lot_number"`
	CaptchaOutput string `json:"captcha_output"`
	PassToken     string `json:"pass_token"`
	GenTime       string `json:"gen_time"`
}

// Verifier is the interface for second-step proof validation.
type Verifier interface {
	Verify(ctx context.Context, proof Proof) (bool, error)
}

// CredentialSource supplies the server-held provider credentials. Resolved
// per call so dynamic settings changes take effect without a restart.
type CredentialSource interface {
	CaptchaCredentials(ctx context.Context) (id, secret, apiServer string)
}

// Client validates proofs against the provider's HTTPS validate endpoint.
type Client struct {
	creds  CredentialSource
	client *http.Client
}

// NewClient creates a provider client with the given request timeout.
func NewClient(creds CredentialSource, timeout time.Duration) *Client {
	return &Client{
		creds:  creds,
		client: &http.Client{Timeout: timeout},
	}
}

type validateResponse struct {
	Result string `json:"result"`
	Reason string `json:"reason"`
}

// Verify signs the proof with HMAC-SHA256 over the lot number and posts it
// to the provider. Only an HTTP 200 with result == "success" counts as a
// pass; everything else, including transport failures, is a fail.
func (c *Client) Verify(ctx context.Context, proof Proof) (bool, error) {
	captchaID, captchaSecret, apiServer := c.creds.CaptchaCredentials(ctx)
	if proof.LotNumber == "" || captchaID == "" || captchaSecret == "" {
		return false, ErrNotConfigured
	}

	mac := hmac.New(sha256.New, []byte(captchaSecret))
	mac.Write([]byte(proof.LotNumber))
	signToken := hex.EncodeToString(mac.Sum(nil))

	form := url.Values{
		"lot_number":     {proof.LotNumber},
		"captcha_output": {proof.CaptchaOutput},
		"pass_token":     {proof.PassToken},
		"gen_time":       {proof.GenTime},
		"sign_token":     {signToken},
		"captcha_id":     {captchaID},
	}

	endpoint := fmt.Sprintf("%s/validate?captcha_id=%s",
		strings.TrimRight(apiServer, "/"), url.QueryEscape(captchaID))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return false, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return false, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("%w: status %d", ErrBadResponse, resp.StatusCode)
	}

	var result validateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}

	return result.Result == "success", nil
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
	}

	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}

// Compile-time check that Client implements Verifier.
var _ Verifier = (*Client)(nil)
