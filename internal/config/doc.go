// Package config defines configuration structures for the cfa tools.
//
// Configuration can be provided via:
//   - Command-line flags
//   - Environment variables (CFA_ prefix)
//   - YAML configuration file (default ~/.cfa.yaml)
//
// # File format
//
//	hosts:
//	  minio:
//	    url: http://localhost:9000
//	    access_key: minioadmin
//	    secret_key: minioadmin
//	    path_style: true
//	workers: 8
//	cfa_version: "0.4"
//	pool:
//	  max_sessions: 16
//	stream:
//	  part_size: 50MiB
//	  read_ahead: 1MiB
//	cache:
//	  dir: /var/tmp/cfa
//	  max_size: 10GiB
//	  diskless: false
//
// Locations such as s3://minio/bucket/key resolve "minio" through hosts.
package config
