// Package sources provides handlers for fetching LMS export documents
// from different data sources.
//
// A source handler turns one upstream location into a snapshot for one
// sync scope. Two source types are supported:
//
//   - api: fetches the export document from an LMS REST endpoint, with
//     retries on transient failures. A course scope is passed to the LMS
//     as a query parameter so filtering happens server-side.
//   - file: reads the export document from a local file. Scope
//     narrowing happens in-process.
//
// Both handlers validate the document's export_version against the
// supported schema range before converting it, and both report a SHA256
// content hash that the sync manager uses for change detection.
package sources
