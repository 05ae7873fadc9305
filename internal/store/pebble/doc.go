// Package pebblestore is a store.Backend on top of Pebble, for embedded
// single-process deployments.
//
// Keys:
//
//	m/{gp}                record, keyed by big-endian global position
//	i/{id}                global position of a message id
//	c/{category}\x00{gp}  category index
//	s/{stream}\x00{gp}    stream index
//	k/{key}               counter value
//
// Usage:
//
//	db, err := pebblestore.Open(pebblestore.Options{
//	    DataDir: "./data",
//	    Fsync:   pebblestore.FsyncModeInterval,
//	})
//	if err != nil { /* handle */ }
//	defer db.Close()
package pebblestore
