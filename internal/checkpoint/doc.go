// Package checkpoint stores and loads parameter snapshots in the .born
// binary format.
//
//	Format Structure (v1):
//	  [4 bytes: Magic "BORN"]
//	  [4 bytes: Version (uint32 LE)]
//	  [4 bytes: Flags (uint32 LE)]
//	  [8 bytes: Header Size (uint64 LE)]
//	  [Header: JSON metadata]
//	  [Tensor data: raw bytes, 64-byte aligned]
//
//	Format Structure (v2):
//	  [64 bytes: fixed header with magic, version, flags, header size,
//	   data size and the SHA-256 checksum of the data section]
//	  [Header: JSON metadata]
//	  [Tensor data: raw bytes, 64-byte aligned]
//
// The JSON header lists tensors in depth order, so a snapshot round-trips
// with its layer order intact. Header metadata carries the training context
// a measure run needs: the dataset description, the criterion name and the
// hidden-layer activation.
//
// Example usage:
//
//	if err := checkpoint.Save("model.born", ps, checkpoint.WriteOptions{Metadata: meta}); err != nil {
//	    log.Fatal(err)
//	}
//
//	ps, header, err := checkpoint.Load("model.born")
//	if err != nil {
//	    log.Fatal(err)
//	}
package checkpoint
