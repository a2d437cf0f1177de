// Package pipeline coordinates a batch image acquisition run.
//
// A run takes the full record set, rejects records that fail validation,
// applies the optional account filter, groups the rest per account in
// create_time order and then handles one record at a time:
//
//	pending -> folder_ready -> downloading -> succeeded | failed
//
// A record whose folder cannot be created fails without a download. A record
// whose assigned file already exists succeeds without a request when
// SkipExisting is set. Every input record is returned exactly once with its
// FileName set on success and nil on failure.
//
// Sinks receive every outcome and the final result. They back the manifest,
// bucket mirror, error report, metrics export and progress display; a sink
// error is logged and otherwise ignored.
package pipeline
