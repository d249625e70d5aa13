package vm

// A PageTableEntry maintains the state of one virtual page of one
// process.
type PageTableEntry struct {
	Present     bool
	FrameNumber int
	Dirty       bool
	Referenced  bool

	// OnDisk marks a page with a committed swap copy. SwapBlock is
	// only valid while OnDisk is set.
	OnDisk    bool
	SwapBlock int
}

// Clear resets the entry to the absent state. The swap copy, if any,
// is kept so the page can be brought back in later.
func (e *PageTableEntry) Clear() {
	e.Present = false
	e.FrameNumber = 0
	e.Dirty = false
	e.Referenced = false
}

// A PageTable holds one entry per virtual page of a process.
type PageTable struct {
	entries []PageTableEntry
}

// NewPageTable creates a page table with numPages absent entries.
func NewPageTable(numPages int) *PageTable {
	return &PageTable{
		entries: make([]PageTableEntry, numPages),
	}
}

// Entry returns the entry for the given virtual page.
func (t *PageTable) Entry(pageNum int) *PageTableEntry {
	return &t.entries[pageNum]
}

// Size returns the number of virtual pages the table covers.
func (t *PageTable) Size() int {
	return len(t.entries)
}
