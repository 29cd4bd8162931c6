// Package reconcile keeps the catalog in step with the filesystem.
//
// A pass walks every registered directory, works out which album folders
// should exist, and diffs them against the catalog. For each surviving album
// the on-disk audio files and the catalog rows are merged into one list in
// natural order, each name tagged with where it was seen. Walking that list
// once creates missing rows, deletes vanished ones when the retention policy
// allows it, and renumbers sort positions.
//
// A failed insert never aborts a pass. It suppresses the remaining deletions
// of that album only and is reported back as an advisory error.
package reconcile
