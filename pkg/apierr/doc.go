// Package apierr is a deliberate departure from the rest of the
// plain fmt.Errorf-wrapping style: the storage core's three wire
// surfaces (REST, S3, PG-wire) each need to turn a domain failure into
// a different status vocabulary (HTTP codes, S3 XML error codes,
// SQLSTATE), and matching on error text is not a dispatch mechanism.
// A small typed Kind fixes that without pulling in a full error
// framework.
package apierr
