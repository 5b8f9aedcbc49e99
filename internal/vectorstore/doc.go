// Package vectorstore stores code block embeddings in Qdrant.
//
// A QdrantStore is bound to one repository: every point it writes carries
// the repository id in its payload and every search filters on it. The
// collection name is CollectionPrefix plus the sanitized repository id.
//
// Points are immutable. Re-indexing clears the repository's points first,
// and the incremental watcher replaces a file's points with DeleteByFile
// followed by a fresh upsert.
package vectorstore
