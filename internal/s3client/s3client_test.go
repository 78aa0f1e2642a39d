package s3client_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/xferd/internal/model"
	"github.com/slok/xferd/internal/s3client"
)

func TestTLSConfig(t *testing.T) {
	tests := map[string]struct {
		profile     model.Profile
		expNil      bool
		expInsecure bool
		expErr      bool
	}{
		"No TLS settings should use the defaults.": {
			profile: model.Profile{},
			expNil:  true,
		},
		"Disabled TLS mode should use the defaults.": {
			profile: model.Profile{TLS: &model.TLSConfig{Mode: model.TLSModeDisabled}},
			expNil:  true,
		},
		"Insecure skip verify should be set.": {
			profile:     model.Profile{TLSInsecureSkipVerify: true},
			expInsecure: true,
		},
		"Invalid mtls material should fail.": {
			profile: model.Profile{TLS: &model.TLSConfig{
				Mode:          model.TLSModeMTLS,
				ClientCertPEM: "not a cert",
				ClientKeyPEM:  "not a key",
			}},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			cfg, err := s3client.TLSConfig(test.profile)
			if test.expErr {
				assert.Error(err)
				return
			}
			require.NoError(t, err)

			if test.expNil {
				assert.Nil(cfg)
				return
			}
			require.NotNil(t, cfg)
			assert.Equal(test.expInsecure, cfg.InsecureSkipVerify)
		})
	}
}

func TestNewRequiresRegion(t *testing.T) {
	_, err := s3client.New(context.TODO(), model.Profile{})
	assert.ErrorIs(t, err, model.ErrNotValid)
}

func TestNew(t *testing.T) {
	caBundle := writeCABundle(t)

	tests := map[string]struct {
		caBundle string
	}{
		"Without a custom CA bundle the client should be created.": {
			caBundle: "",
		},
		"With a custom CA bundle the client should be created.": {
			caBundle: caBundle,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			t.Setenv("AWS_CA_BUNDLE", test.caBundle)
			t.Setenv("AWS_PROFILE", "")
			t.Setenv("AWS_CONFIG_FILE", filepath.Join(dir, "config"))
			t.Setenv("AWS_SHARED_CREDENTIALS_FILE", filepath.Join(dir, "credentials"))

			c, err := s3client.New(context.TODO(), model.Profile{
				Region:                "eu-west-1",
				Endpoint:              "http://127.0.0.1:9000",
				AccessKeyID:           "ak",
				SecretAccessKey:       "sk",
				ForcePathStyle:        true,
				TLSInsecureSkipVerify: true,
			})
			require.NoError(t, err)
			assert.NotNil(t, c)
		})
	}
}

func writeCABundle(t *testing.T) string {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "xferd test ca"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign,
	}
	der, err := x509.CreateCertificate(rand.Reader, tpl, tpl, &key.PublicKey, key)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "ca.pem")
	err = os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600)
	require.NoError(t, err)

	return path
}
