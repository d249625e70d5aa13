package vm

import "fmt"

// FrameInfo labels one physical frame with its owning page-table
// entry.
type FrameInfo struct {
	Allocated  bool
	OwnerPID   int
	PageNumber int
}

// A FrameTable is the fixed pool of physical frames shared by all
// processes. Frames are labelled on allocation and unlabelled on
// free; the label always names the unique page-table entry that is
// present in the frame.
type FrameTable struct {
	frames []FrameInfo
}

// NewFrameTable creates a pool of numFrames free frames.
func NewFrameTable(numFrames int) *FrameTable {
	return &FrameTable{
		frames: make([]FrameInfo, numFrames),
	}
}

// Allocate labels the lowest-indexed free frame with (pid, pageNum)
// and returns its index. The bool return value indicates whether a
// free frame was found.
func (t *FrameTable) Allocate(pid, pageNum int) (int, bool) {
	for i := range t.frames {
		if !t.frames[i].Allocated {
			t.frames[i] = FrameInfo{
				Allocated:  true,
				OwnerPID:   pid,
				PageNumber: pageNum,
			}
			return i, true
		}
	}

	return 0, false
}

// Free unlabels the given frame.
func (t *FrameTable) Free(frameNum int) {
	t.mustBeInRange(frameNum)
	t.frames[frameNum] = FrameInfo{OwnerPID: -1}
}

// Assign overwrites the label of an allocated frame. It is used by
// the replacement path after the previous owner has been evicted.
func (t *FrameTable) Assign(frameNum, pid, pageNum int) {
	t.mustBeInRange(frameNum)
	t.frames[frameNum] = FrameInfo{
		Allocated:  true,
		OwnerPID:   pid,
		PageNumber: pageNum,
	}
}

// Frame returns the label of the given frame.
func (t *FrameTable) Frame(frameNum int) FrameInfo {
	t.mustBeInRange(frameNum)
	return t.frames[frameNum]
}

// NumFrames returns the size of the pool.
func (t *FrameTable) NumFrames() int {
	return len(t.frames)
}

// NumFree returns the number of unallocated frames.
func (t *FrameTable) NumFree() int {
	count := 0
	for i := range t.frames {
		if !t.frames[i].Allocated {
			count++
		}
	}
	return count
}

// NumUsed returns the number of allocated frames.
func (t *FrameTable) NumUsed() int {
	return len(t.frames) - t.NumFree()
}

func (t *FrameTable) mustBeInRange(frameNum int) {
	if frameNum < 0 || frameNum >= len(t.frames) {
		panic(fmt.Sprintf("frame %d out of range [0, %d)",
			frameNum, len(t.frames)))
	}
}
