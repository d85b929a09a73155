// Package documents runs the ingestion pipeline behind the
// document-processing queue: text is split into overlapping chunks, embedded
// in one batch, and the vectors stored per document.
package documents
