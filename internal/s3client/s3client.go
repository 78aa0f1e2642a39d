package s3client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/slok/xferd/internal/model"
)

const (
	dialTimeout           = 10 * time.Second
	tlsHandshakeTimeout   = 10 * time.Second
	responseHeaderTimeout = 30 * time.Second
	idleConnTimeout       = 90 * time.Second
)

// New returns an S3 client for the profile.
func New(ctx context.Context, p model.Profile) (*s3.Client, error) {
	if strings.TrimSpace(p.Region) == "" {
		return nil, fmt.Errorf("region is required: %w", model.ErrNotValid)
	}

	tlsConfig, err := TLSConfig(p)
	if err != nil {
		return nil, err
	}

	// The buildable client lets the sdk add a custom CA bundle (AWS_CA_BUNDLE).
	httpClient := awshttp.NewBuildableClient().
		WithDialerOptions(func(d *net.Dialer) {
			d.Timeout = dialTimeout
			d.KeepAlive = 30 * time.Second
		}).
		WithTransportOptions(func(tr *http.Transport) {
			if tlsConfig != nil {
				tr.TLSClientConfig = tlsConfig
			}
			tr.TLSHandshakeTimeout = tlsHandshakeTimeout
			tr.ResponseHeaderTimeout = responseHeaderTimeout
			tr.IdleConnTimeout = idleConnTimeout
			tr.MaxIdleConns = 100
			tr.MaxIdleConnsPerHost = 20
			tr.ForceAttemptHTTP2 = true
		})

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(p.Region),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(p.AccessKeyID, p.SecretAccessKey, p.SessionToken),
		),
		config.WithHTTPClient(httpClient),
	)
	if err != nil {
		return nil, fmt.Errorf("could not load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint := strings.TrimSpace(p.Endpoint); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = p.ForcePathStyle
	}), nil
}

// TLSConfig returns the client TLS configuration of the profile, nil when the
// defaults apply.
func TLSConfig(p model.Profile) (*tls.Config, error) {
	mtls := p.TLS != nil && p.TLS.Mode == model.TLSModeMTLS
	if !mtls && !p.TLSInsecureSkipVerify {
		return nil, nil
	}

	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: p.TLSInsecureSkipVerify, //nolint:gosec
	}
	if !mtls {
		return cfg, nil
	}

	cert, err := tls.X509KeyPair([]byte(p.TLS.ClientCertPEM), []byte(p.TLS.ClientKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("invalid client certificate: %w", err)
	}
	cfg.Certificates = []tls.Certificate{cert}

	if ca := strings.TrimSpace(p.TLS.CACertPEM); ca != "" {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM([]byte(ca)) {
			return nil, fmt.Errorf("invalid ca certificate")
		}
		cfg.RootCAs = pool
	}

	return cfg, nil
}
