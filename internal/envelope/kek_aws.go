package envelope

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
)

// kmsAPI is the slice of the AWS KMS client the adapter uses.
type kmsAPI interface {
	Encrypt(ctx context.Context, params *kms.EncryptInput, optFns ...func(*kms.Options)) (*kms.EncryptOutput, error)
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// AWSKMSKEK wraps DEKs with an AWS KMS key. Credentials come from the
// default chain (env, shared config, instance role).
type AWSKMSKEK struct {
	client kmsAPI
	keyID  string
}

// NewAWSKMSKEK builds the adapter for the given KMS key ID or ARN.
func NewAWSKMSKEK(ctx context.Context, keyID string) (*AWSKMSKEK, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("aws kms kek: load config: %w", err)
	}
	return &AWSKMSKEK{client: kms.NewFromConfig(cfg), keyID: keyID}, nil
}

func (k *AWSKMSKEK) EncryptDEK(ctx context.Context, plaintext []byte) ([]byte, error) {
	out, err := k.client.Encrypt(ctx, &kms.EncryptInput{
		KeyId:     aws.String(k.keyID),
		Plaintext: plaintext,
	})
	if err != nil {
		return nil, fmt.Errorf("aws kms encrypt: %w", err)
	}
	return out.CiphertextBlob, nil
}

func (k *AWSKMSKEK) DecryptDEK(ctx context.Context, ciphertext []byte) ([]byte, error) {
	out, err := k.client.Decrypt(ctx, &kms.DecryptInput{
		KeyId:          aws.String(k.keyID),
		CiphertextBlob: ciphertext,
	})
	if err != nil {
		return nil, fmt.Errorf("aws kms decrypt: %w", err)
	}
	return out.Plaintext, nil
}
