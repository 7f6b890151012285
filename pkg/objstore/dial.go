package objstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/blob/gcsblob"
	"gocloud.dev/blob/memblob"
	"gocloud.dev/blob/s3blob"
	"gocloud.dev/gcp"

	"github.com/ligustah/cfa/pkg/errkind"
)

// bucketClient caches bucket handles opened by open.
type bucketClient struct {
	open func(ctx context.Context, name string) (*blob.Bucket, error)
	// shared buckets are owned elsewhere and not closed with the client.
	shared bool

	mu      sync.Mutex
	buckets map[string]*blob.Bucket
}

func newBucketClient(open func(context.Context, string) (*blob.Bucket, error)) *bucketClient {
	return &bucketClient{open: open, buckets: make(map[string]*blob.Bucket)}
}

func (c *bucketClient) Bucket(ctx context.Context, name string) (*blob.Bucket, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.buckets[name]; ok {
		return b, nil
	}
	b, err := c.open(ctx, name)
	if err != nil {
		return nil, err
	}
	c.buckets[name] = b
	return b, nil
}

func (c *bucketClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	if !c.shared {
		for _, b := range c.buckets {
			errs = append(errs, b.Close())
		}
	}
	c.buckets = make(map[string]*blob.Bucket)
	return errors.Join(errs...)
}

// DialS3 connects to an S3-compatible endpoint with the endpoint's own
// static credentials. Endpoints without credentials are accessed
// anonymously.
func DialS3(_ context.Context, ep Endpoint) (Client, error) {
	region := ep.Region
	if region == "" {
		region = "us-east-1"
	}
	opts := s3.Options{
		Region:       region,
		UsePathStyle: ep.PathStyle,
	}
	if ep.URL != "" {
		opts.BaseEndpoint = aws.String(ep.URL)
	}
	if ep.AccessKey != "" {
		opts.Credentials = credentials.NewStaticCredentialsProvider(ep.AccessKey, ep.SecretKey, "")
	} else {
		opts.Credentials = aws.AnonymousCredentials{}
	}
	client := s3.New(opts)
	return newBucketClient(func(ctx context.Context, name string) (*blob.Bucket, error) {
		return s3blob.OpenBucketV2(ctx, client, name, nil)
	}), nil
}

// DialGCS connects to Google Cloud Storage with application default
// credentials, falling back to anonymous access when none are found.
// Static keys are not used; the endpoint only names the host.
func DialGCS(ctx context.Context, _ Endpoint) (Client, error) {
	var client *gcp.HTTPClient
	creds, err := gcp.DefaultCredentials(ctx)
	if err == nil {
		client, err = gcp.NewHTTPClient(gcp.DefaultTransport(), gcp.CredentialsTokenSource(creds))
		if err != nil {
			return nil, errkind.Transport.Wrap(err)
		}
	} else {
		client = gcp.NewAnonymousHTTPClient(gcp.DefaultTransport())
	}
	return newBucketClient(func(ctx context.Context, name string) (*blob.Bucket, error) {
		return gcsblob.OpenBucket(ctx, client, name, nil)
	}), nil
}

// DialFile serves buckets as directories below the endpoint's URL, or
// below the current directory when none is configured.
func DialFile(_ context.Context, ep Endpoint) (Client, error) {
	root := ep.URL
	if root == "" {
		root = "."
	}
	return newBucketClient(func(_ context.Context, name string) (*blob.Bucket, error) {
		dir := filepath.Join(root, name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		return fileblob.OpenBucket(dir, nil)
	}), nil
}

// NewMemDialer returns a dialer whose in-memory buckets are shared by
// every client it creates, keyed by host and bucket name.
func NewMemDialer() Dialer {
	var mu sync.Mutex
	buckets := make(map[string]*blob.Bucket)
	return func(_ context.Context, ep Endpoint) (Client, error) {
		c := newBucketClient(func(_ context.Context, name string) (*blob.Bucket, error) {
			mu.Lock()
			defer mu.Unlock()
			k := ep.Host + "/" + name
			b, ok := buckets[k]
			if !ok {
				b = memblob.OpenBucket(nil)
				buckets[k] = b
			}
			return b, nil
		})
		c.shared = true
		return c, nil
	}
}
