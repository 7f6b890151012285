//go:build integration

// Package testutils provides shared test infrastructure for integration tests.
package testutils

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ligustah/cfa/pkg/objstore"
)

// MinioHost is the host alias under which the Minio endpoint is
// registered, so locations read s3://minio/<bucket>/<key>.
const MinioHost = "minio"

// GenerateTestData generates test data of the given size.
// For payloads <= 10MB, uses deterministic pattern. For larger ones, uses random data.
func GenerateTestData(t *testing.T, size int64) []byte {
	t.Helper()
	data := make([]byte, size)
	if size <= 10*1024*1024 {
		for i := range data {
			data[i] = byte(i % 256)
		}
	} else {
		if _, err := rand.Read(data); err != nil {
			t.Fatalf("generate random data: %v", err)
		}
	}
	return data
}

// MinioEnv contains connection information for a Minio test environment.
type MinioEnv struct {
	Container testcontainers.Container
	Bucket    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// Close terminates the Minio container.
func (e *MinioEnv) Close(ctx context.Context) error {
	if e.Container != nil {
		return e.Container.Terminate(ctx)
	}
	return nil
}

// ObjStoreEndpoint describes the container as an object-store endpoint.
func (e *MinioEnv) ObjStoreEndpoint() objstore.Endpoint {
	return objstore.Endpoint{
		Scheme:    "s3",
		Host:      MinioHost,
		URL:       "http://" + e.Endpoint,
		Region:    "us-east-1",
		AccessKey: e.AccessKey,
		SecretKey: e.SecretKey,
		PathStyle: true,
	}
}

// Pool returns a pool routing the minio alias to the container. It is
// closed when the test ends.
func (e *MinioEnv) Pool(t *testing.T, maxSessions int) *objstore.Pool {
	t.Helper()
	pool := objstore.NewPool(objstore.PoolOptions{
		MaxSessionsPerKey: maxSessions,
		Endpoints:         map[string]objstore.Endpoint{MinioHost: e.ObjStoreEndpoint()},
	})
	t.Cleanup(func() { pool.Close() })
	return pool
}

// URL returns the s3:// location of key in the test bucket.
func (e *MinioEnv) URL(key string) string {
	return fmt.Sprintf("s3://%s/%s/%s", MinioHost, e.Bucket, key)
}

// WriteConfig writes a cfa config file pointing the minio alias at the
// container and returns its path.
func (e *MinioEnv) WriteConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "cfa.yaml")
	cfg := fmt.Sprintf(`hosts:
  %s:
    url: http://%s
    region: us-east-1
    access_key: %s
    secret_key: %s
    path_style: true
stream:
  part_size: 5MiB
cache:
  dir: %s
`, MinioHost, e.Endpoint, e.AccessKey, e.SecretKey, filepath.Join(dir, "cache"))
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// StartMinioContainer starts a Minio container with a pre-created bucket.
// Returns a MinioEnv with connection information.
func StartMinioContainer(t *testing.T, ctx context.Context, bucketName string) *MinioEnv {
	t.Helper()

	const (
		accessKey = "minioadmin"
		secretKey = "minioadmin"
	)

	// Create a network for minio and mc to communicate
	networkName := fmt.Sprintf("minio-test-net-%d", time.Now().UnixNano())
	network, err := testcontainers.GenericNetwork(ctx, testcontainers.GenericNetworkRequest{
		NetworkRequest: testcontainers.NetworkRequest{
			Name: networkName,
		},
	})
	if err != nil {
		t.Fatalf("create network: %v", err)
	}
	t.Cleanup(func() { network.Remove(ctx) })

	minioReq := testcontainers.ContainerRequest{
		Image:        "minio/minio:latest",
		ExposedPorts: []string{"9000/tcp"},
		Networks:     []string{networkName},
		NetworkAliases: map[string][]string{
			networkName: {"minio"},
		},
		Env: map[string]string{
			"MINIO_ROOT_USER":     accessKey,
			"MINIO_ROOT_PASSWORD": secretKey,
		},
		Cmd:        []string{"server", "/data"},
		WaitingFor: wait.ForHTTP("/minio/health/ready").WithPort("9000"),
	}

	minioContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: minioReq,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start minio container: %v", err)
	}

	createBucketWithMC(t, ctx, networkName, accessKey, secretKey, bucketName)

	host, err := minioContainer.Host(ctx)
	if err != nil {
		t.Fatalf("get container host: %v", err)
	}

	port, err := minioContainer.MappedPort(ctx, "9000")
	if err != nil {
		t.Fatalf("get container port: %v", err)
	}

	return &MinioEnv{
		Container: minioContainer,
		Bucket:    bucketName,
		Endpoint:  fmt.Sprintf("%s:%s", host, port.Port()),
		AccessKey: accessKey,
		SecretKey: secretKey,
	}
}

// createBucketWithMC creates a bucket using a separate minio/mc container.
func createBucketWithMC(t *testing.T, ctx context.Context, networkName, accessKey, secretKey, bucketName string) {
	t.Helper()

	// mc container runs, creates the bucket, then exits
	mcReq := testcontainers.ContainerRequest{
		Image:      "minio/mc:latest",
		Networks:   []string{networkName},
		Entrypoint: []string{"/bin/sh", "-c"},
		Cmd: []string{
			fmt.Sprintf(
				"/usr/bin/mc config host add myminio http://minio:9000 %s %s && "+
					"/usr/bin/mc mb myminio/%s; "+
					"exit 0",
				accessKey, secretKey, bucketName,
			),
		},
		WaitingFor: wait.ForExit(),
	}

	mcContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: mcReq,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start mc container: %v", err)
	}
	defer mcContainer.Terminate(ctx)
}

// CompareReaderToData compares reader output with expected data in chunks.
func CompareReaderToData(t *testing.T, reader io.Reader, expected []byte) {
	t.Helper()

	buf := make([]byte, 64*1024)
	offset := 0

	for {
		n, err := reader.Read(buf)
		if n > 0 {
			if offset+n > len(expected) {
				t.Fatalf("read more data than expected: offset=%d, n=%d, expected len=%d",
					offset, n, len(expected))
			}
			if !bytes.Equal(buf[:n], expected[offset:offset+n]) {
				t.Fatalf("data mismatch at offset %d", offset)
			}
			offset += n
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("read error at offset %d: %v", offset, err)
		}
	}

	if offset != len(expected) {
		t.Fatalf("incomplete read: got %d bytes, want %d", offset, len(expected))
	}
}
