package shm

import "fmt"

// SegmentInfo summarizes the memory usage of a segment.
type SegmentInfo struct {
	ID        string
	Size      int
	Free      int
	Used      int
	Objects   int
	HasIssues bool
}

func (i SegmentInfo) String() string {
	return fmt.Sprintf("segment %s: size %d, free %d, used %d, objects %d, sanity check %s",
		i.ID, i.Size, i.Free, i.Used, i.Objects, map[bool]string{true: "failed", false: "ok"}[i.HasIssues])
}
