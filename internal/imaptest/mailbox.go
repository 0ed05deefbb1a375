package imaptest

import (
	"strconv"
	"strings"
	"time"

	"github.com/mailpulse/mailpulse"
)

// mailbox is protected by Server.mutex.
type mailbox struct {
	name        string
	attrs       []string
	uidValidity uint32
	uidNext     uint32
	msgs        []*message
}

func (mbox *mailbox) append(buf []byte, t time.Time, flags []string) uint32 {
	uid := mbox.uidNext
	mbox.uidNext++
	mbox.msgs = append(mbox.msgs, newMessage(uid, buf, t, flags))
	return uid
}

// byUID returns the sequence number and the message with the given UID.
func (mbox *mailbox) byUID(uid uint32) (uint32, *message) {
	for i, msg := range mbox.msgs {
		if msg.uid == uid {
			return uint32(i + 1), msg
		}
	}
	return 0, nil
}

func (mbox *mailbox) maxUID() uint32 {
	if len(mbox.msgs) == 0 {
		return 0
	}
	return mbox.msgs[len(mbox.msgs)-1].uid
}

// forUIDSet calls f with the sequence number of every message whose UID is
// in set. "*" stands for the largest UID.
func (mbox *mailbox) forUIDSet(set string, f func(seqNum uint32, msg *message)) {
	max := mbox.maxUID()
	for i, msg := range mbox.msgs {
		if uidSetContains(set, msg.uid, max) {
			f(uint32(i+1), msg)
		}
	}
}

// expunge removes the messages flagged \Deleted whose UID is in set, or all
// of them if set is empty, and returns the expunged sequence numbers in the
// order they must be announced.
func (mbox *mailbox) expunge(set string) []uint32 {
	var seqNums []uint32
	max := mbox.maxUID()
	kept := mbox.msgs[:0]
	expunged := 0
	for i, msg := range mbox.msgs {
		if msg.hasFlag(string(mailpulse.FlagDeleted)) && (set == "" || uidSetContains(set, msg.uid, max)) {
			seqNums = append(seqNums, uint32(i+1-expunged))
			expunged++
			continue
		}
		kept = append(kept, msg)
	}
	mbox.msgs = kept
	return seqNums
}

func uidSetContains(set string, uid, max uint32) bool {
	parse := func(s string) uint32 {
		if s == "*" {
			return max
		}
		n, _ := strconv.ParseUint(s, 10, 32)
		return uint32(n)
	}
	for _, atom := range strings.Split(set, ",") {
		lo, hi, isRange := strings.Cut(atom, ":")
		start := parse(lo)
		stop := start
		if isRange {
			stop = parse(hi)
		}
		if stop < start {
			start, stop = stop, start
		}
		if start <= uid && uid <= stop {
			return true
		}
	}
	return false
}
