/*
Package reldoc implements a document database on top of any relational SQL
engine reachable through database/sql.

We implement:

1. Documents, opaque codec-serialized objects addressed by a 64-bit Id and
   stored one-row-per-document in a single wide table.

2. Indexes, relational projections of documents kept in sync with document
   mutations — map indexes (zero or more rows per document) and reduce
   indexes (many documents aggregated into one row per group key).

3. Sessions, a unit-of-work with an identity map, snapshot-based change
   detection, and a single-transaction flush.

4. A query compiler translating a predicate tree over an index's columns
   into dialect-correct, parameterized SQL.

# Technical Details

**Tables.** Every registered document type has an entry in the shared
Document table (or a per-collection variant). Every index gets its own
table, named "<Index>_Document"; reduce indexes additionally get
"<Index>_Reduced" and use the "_Document" table as a bridge between
source documents and the reduced row they contribute to.

**Snapshots.** A session remembers, for every tracked document, the codec
bytes produced the last time it was loaded or flushed. At flush, any
live object whose current bytes differ from its snapshot is Modified;
this is the library's only mutation-detection mechanism, so no document
type needs to implement an observer interface.

**Dialects.** Everything backend-specific (identifier quoting,
placeholders, paging, column types, DDL, the Identifiers upsert) goes
through the dialect package; the session, index engine and query compiler
assemble their plain SELECT/INSERT/UPDATE/DELETE text themselves from
those pieces.
*/
package reldoc
