// Package archive implements the read and read-write ZIP archive cache:
// CacheFactory opens an archive (internal/cdr drives the actual parsing),
// Cache answers find/read/refresh against it, and CacheRW layers in-place
// update/remove/relink on top of the same file format.
package archive
