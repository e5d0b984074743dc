// Package live pushes task changes to connected browsers over websockets.
//
// The API handlers publish an Event after every successful write. Hub fans
// each event out to all subscribers without blocking the writer; a
// subscriber that falls more than a buffer behind misses events rather than
// stalling the request.
package live
