// Package objstore gives byte-stream access to objects addressed as
// scheme://host/bucket/key.
//
// # Sessions
//
// A [Pool] hands out sessions keyed by endpoint and credential identity,
// capped per key. Acquire blocks once the cap is reached until another
// session is released; released sessions stay open for reuse.
//
// # Streams
//
// A [FileStream] in read mode discovers the object size once on
// [FileStream.Connect] and serves ranged reads with a small read-ahead
// buffer. In write mode it buffers one part at a time: a payload that
// never fills a part is stored with a single put, anything larger goes
// through a multipart upload opened on the first full part.
//
//	pool := objstore.NewPool(objstore.PoolOptions{MaxSessionsPerKey: 4})
//	s, err := objstore.OpenStream(ctx, pool, "s3://minio/bucket/data.nc", objstore.Read, nil)
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
// Schemes s3, gs, mem and file are understood. s3 endpoints come from the
// pool's configured hosts; gs uses application default credentials; mem
// buckets live for the lifetime of the pool.
package objstore
