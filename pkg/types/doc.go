/*
Package types defines the data model shared by every amberio core
component: the normalized path, the slot it routes to, the head that
represents its current state, and the membership snapshot that maps
slots to replicas.

# Data model

A path has at most one effective head per replica, which is either a
MetaHead (live object: size, etag, parts) or a Tombstone (logical
delete). Heads are never mutated in place — a PUT upserts a new
MetaHead, a DELETE appends a new Tombstone — and the one with the
greatest Generation is authoritative. Ties are broken tombstone over
meta, then by ContentHash, matching the order the formal replay model
assumes (see Head.Less).

Parts are immutable and content-addressed: a PartRef names 32 bytes of
SHA-256 plus a length, and its on-disk file is part.<hex_sha256>
beneath the owning path's directory.

# Membership

MembershipView is treated as an immutable snapshot everywhere in the
core; nothing mutates one in place. A topology change is installed by
swapping the whole snapshot (package membership), never by editing
fields of a live view.
*/
package types
