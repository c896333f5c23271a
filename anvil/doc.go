/*
Package anvil implements the paged region file container which pycraft
worlds use to store chunk records on disk.

A region file packs up to 1024 independently sized, compressed chunk
records into fixed-size pages of 4096 bytes. Chunks are addressed by a
table slot derived from their coordinates; records are allocated
first-fit, so pages freed by deleted or rewritten chunks are reused
before the file grows.

Data Structure Documentation

Region file

A region file starts with two reserved header pages, followed by data
pages. The file size is always a multiple of the page size.

    Region file layout:
    +----------------+-----------------+--------+--------+-------+
    | location table | timestamp table | page 2 | page 3 |  ...  |
    |    (page 0)    |    (page 1)     |        |        |       |
    +----------------+-----------------+--------+--------+-------+

Location table

The location table holds 1024 entries of 4 bytes each, one per chunk
slot. The slot of the chunk at coordinates x, z is (x&31) + (z&31)*32.
Each entry addresses a sector: a contiguous run of pages holding the
chunk's record.

    Location entry:
    +-------------------------------+---------------------+
    | page offset (3 bytes, bigend) | page count (1 byte) |
    +-------------------------------+---------------------+

An entry with a page offset below 2 or a page count of zero marks the
chunk as absent.

Timestamp table

The timestamp table holds 1024 big-endian 4-byte Unix timestamps in
seconds, indexed by the same slots. Slots that were never stamped read
back as the epoch.

Chunk record

Each occupied sector starts with a record header, followed by the
stored payload and zero padding up to the end of the sector, so that
every record begins on a page boundary.

    Chunk record:
    +---------------------------+------------------------+---------------------+----------+
    | length L (4 bytes, bigend)| compression (1 byte)   | payload (L-1 bytes) | zero pad |
    +---------------------------+------------------------+---------------------+----------+

The length field counts the compression byte plus the payload.
Supported compression types are 1 (gzip), 2 (zlib) and 3 (none);
writers always emit zlib.
*/
package anvil
