// Package otr is the default engine, built on golang.org/x/crypto/otr.
//
// It speaks OTR version 2: the authenticated key exchange, data messages
// and the socialist millionaires' protocol. The library has no API for
// custom TLVs, SMP aborts or the extra symmetric key, so those calls
// report domain.ErrUnsupported. Fragmentation is left to the pipeline.
package otr
