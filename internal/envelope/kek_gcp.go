package envelope

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const cloudKMSScope = "https://www.googleapis.com/auth/cloudkms"

// GCPKMSKEK wraps DEKs with a Google Cloud KMS key via the REST API,
// authenticated through application default credentials.
type GCPKMSKEK struct {
	httpClient *http.Client
	baseURL    string // overridable for tests
	keyName    string // projects/p/locations/l/keyRings/r/cryptoKeys/k
}

// NewGCPKMSKEK builds the adapter for the given crypto key resource name.
func NewGCPKMSKEK(ctx context.Context, keyName string) (*GCPKMSKEK, error) {
	ts, err := google.DefaultTokenSource(ctx, cloudKMSScope)
	if err != nil {
		return nil, fmt.Errorf("gcp kms kek: default credentials: %w", err)
	}
	client := oauth2.NewClient(ctx, ts)
	client.Timeout = 15 * time.Second
	return &GCPKMSKEK{
		httpClient: client,
		baseURL:    "https://cloudkms.googleapis.com/v1",
		keyName:    keyName,
	}, nil
}

type gcpEncryptRequest struct {
	Plaintext string `json:"plaintext"`
}

type gcpEncryptResponse struct {
	Ciphertext string `json:"ciphertext"`
}

type gcpDecryptRequest struct {
	Ciphertext string `json:"ciphertext"`
}

type gcpDecryptResponse struct {
	Plaintext string `json:"plaintext"`
}

func (k *GCPKMSKEK) EncryptDEK(ctx context.Context, plaintext []byte) ([]byte, error) {
	var resp gcpEncryptResponse
	req := gcpEncryptRequest{Plaintext: base64.StdEncoding.EncodeToString(plaintext)}
	if err := k.post(ctx, ":encrypt", req, &resp); err != nil {
		return nil, fmt.Errorf("gcp kms encrypt: %w", err)
	}
	return base64.StdEncoding.DecodeString(resp.Ciphertext)
}

func (k *GCPKMSKEK) DecryptDEK(ctx context.Context, ciphertext []byte) ([]byte, error) {
	var resp gcpDecryptResponse
	req := gcpDecryptRequest{Ciphertext: base64.StdEncoding.EncodeToString(ciphertext)}
	if err := k.post(ctx, ":decrypt", req, &resp); err != nil {
		return nil, fmt.Errorf("gcp kms decrypt: %w", err)
	}
	return base64.StdEncoding.DecodeString(resp.Plaintext)
}

func (k *GCPKMSKEK) post(ctx context.Context, action string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	url := k.baseURL + "/" + k.keyName + action
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := k.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("cloudkms returned %d: %s", resp.StatusCode, string(msg))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
