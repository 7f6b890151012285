//go:build integration

package objstore_test

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/ligustah/cfa/internal/testutils"
	"github.com/ligustah/cfa/pkg/errkind"
	"github.com/ligustah/cfa/pkg/objstore"
)

func TestMinioStreams(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	minio := testutils.StartMinioContainer(t, ctx, "objstore-test-bucket")
	defer func() {
		if err := minio.Close(ctx); err != nil {
			t.Logf("failed to terminate minio container: %v", err)
		}
	}()
	pool := minio.Pool(t, 4)

	// 5MiB parts are the S3 minimum, so 12MiB needs three parts.
	data := testutils.GenerateTestData(t, 12<<20)
	uri := minio.URL("streams/multipart.bin")
	opts := &objstore.StreamOptions{PartSize: objstore.DefaultPartSize}

	t.Run("multipart_write", func(t *testing.T) {
		w, err := objstore.OpenStream(ctx, pool, uri, objstore.Write, opts)
		if err != nil {
			t.Fatalf("open for write: %v", err)
		}
		if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
			t.Fatalf("write: %v", err)
		}
		multipart, parts := w.Multipart()
		if !multipart || parts < 2 {
			t.Errorf("Multipart() = %v, %d; want a multipart upload", multipart, parts)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	})

	t.Run("ranged_read", func(t *testing.T) {
		r, err := objstore.OpenStream(ctx, pool, uri, objstore.Read, opts)
		if err != nil {
			t.Fatalf("open for read: %v", err)
		}
		defer r.Close()
		if r.Size() != int64(len(data)) {
			t.Fatalf("Size() = %d, want %d", r.Size(), len(data))
		}

		off := int64(7<<20 + 123)
		if _, err := r.Seek(off, io.SeekStart); err != nil {
			t.Fatalf("seek: %v", err)
		}
		buf := make([]byte, 4096)
		if _, err := io.ReadFull(r, buf); err != nil {
			t.Fatalf("read: %v", err)
		}
		if !bytes.Equal(buf, data[off:off+4096]) {
			t.Fatal("ranged read returned wrong bytes")
		}
	})

	t.Run("download", func(t *testing.T) {
		loc, err := objstore.ParseLocation(uri)
		if err != nil {
			t.Fatal(err)
		}
		var buf bytes.Buffer
		if _, err := pool.Download(ctx, loc, &buf, opts); err != nil {
			t.Fatalf("download: %v", err)
		}
		testutils.CompareReaderToData(t, &buf, data)
	})

	t.Run("delete", func(t *testing.T) {
		loc, err := objstore.ParseLocation(uri)
		if err != nil {
			t.Fatal(err)
		}
		if err := pool.Delete(ctx, loc); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if _, err := pool.Stat(ctx, loc); !errkind.NotFound.Has(err) {
			t.Fatalf("Stat after delete: %v, want not found", err)
		}
	})
}
