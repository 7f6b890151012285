// Package nca opens and writes CFA master-array files.
//
// A master-array file is an ordinary netCDF container. Inline variables
// hold their data; fragmented variables are scalar placeholders whose
// cfa_array attribute lists the partitions that make up the variable.
// The file and its fragments may live on the local filesystem or behind
// an object-store URI:
//
//	ds, err := nca.Open(ctx, "s3://minio/bucket/out/data.nca", nca.Options{Pool: pool})
//	if err != nil {
//	    return err
//	}
//	defer ds.Close(ctx)
//	v, _ := ds.Model().Root().GetVariable("tas")
//	arr, err := ds.ReadVariable(ctx, v)
//
// Fragment reads run in parallel, bounded by Options.Workers and by the
// object-store pool.
package nca
