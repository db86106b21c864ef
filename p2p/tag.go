package p2p

// Tag layout, most significant first:
//
//	| seq (24) | sender rank (20) | marker (2) | group id (18) |
const (
	TagSeqBits    = 24
	TagRankBits   = 20
	TagMarkerBits = 2
	TagGroupBits  = 18

	tagGroupShift  = 0
	tagMarkerShift = TagGroupBits
	tagRankShift   = tagMarkerShift + TagMarkerBits
	tagSeqShift    = tagRankShift + TagRankBits

	tagMarker = 1

	TagSeqMask    uint64 = (1<<TagSeqBits - 1) << tagSeqShift
	TagRankMask   uint64 = (1<<TagRankBits - 1) << tagRankShift
	TagMarkerMask uint64 = (1<<TagMarkerBits - 1) << tagMarkerShift
	TagGroupMask  uint64 = (1<<TagGroupBits - 1) << tagGroupShift

	// SenderMask is the ignore mask of a receive that matches any sequence
	// from one sender of one group.
	SenderMask = TagSeqMask

	MaxGroupID = 1<<TagGroupBits - 1
	MaxRank    = 1<<TagRankBits - 1
)

// MakeTag packs a tag. Out of range fields are truncated to their width.
func MakeTag(seq uint32, rank int, group uint32) uint64 {
	return uint64(seq)<<tagSeqShift&TagSeqMask |
		uint64(rank)<<tagRankShift&TagRankMask |
		uint64(tagMarker)<<tagMarkerShift |
		uint64(group)<<tagGroupShift&TagGroupMask
}

// SplitTag unpacks a tag made by MakeTag.
func SplitTag(tag uint64) (seq uint32, rank int, group uint32) {
	return uint32((tag & TagSeqMask) >> tagSeqShift),
		int((tag & TagRankMask) >> tagRankShift),
		uint32((tag & TagGroupMask) >> tagGroupShift)
}

// Match reports whether a message tag satisfies a receive tag under ignore.
func Match(msgTag, recvTag, ignore uint64) bool {
	return msgTag&^ignore == recvTag&^ignore
}

// Request ids occupy [RequestIDBase, RequestIDEnd); RequestIDEnd itself is
// reserved and never handed out.
const (
	RequestIDBase uint32 = 0x800000
	RequestIDEnd  uint32 = 0xFFFFFF
)

// RequestIDs hands out per-collective sequence numbers. One counter is shared
// by a group and all of its subgroups; it is driven by the progress thread
// only.
type RequestIDs struct {
	next uint32
}

// Next returns the next id, wrapping to RequestIDBase+1 after the last one.
func (r *RequestIDs) Next() uint32 {
	if r.next < RequestIDBase || r.next >= RequestIDEnd {
		if r.next == 0 {
			r.next = RequestIDBase
		} else {
			r.next = RequestIDBase + 1
		}
	}
	id := r.next
	r.next++
	return id
}
