// Package timeoutwheel implements the kernel's ordered set of pending
// absolute deadlines: a slice-backed min-heap keyed on expiry, with each
// entry's heap index mirrored into its owning control block so that
// removal is O(log n) without a search.
//
// The structure and the sift-up/sift-down split are carried over from
// constance's utils/binary_heap.rs (a "hole"-based heap with an on_move
// callback); Go has no equivalent of its unsafe Hole type, so this
// version moves elements directly and calls SetHeapIndex after every
// swap, which is simpler and costs one extra write per level.
package timeoutwheel

// Entry is anything that can sit in the wheel: a task's timed wait or a
// timer's next-fire deadline. DeadlineUS reports the current deadline in
// kernel microseconds; SetHeapIndex is called by the wheel every time the
// entry's position changes (including -1 when removed), so the owner can
// later call Wheel.Remove in O(log n) without scanning.
type Entry interface {
	DeadlineUS() uint64
	SetHeapIndex(i int)
	HeapIndex() int
}

// NoHeapIndex is the sentinel stored by an entry that is not currently in
// any wheel.
const NoHeapIndex = -1

// Wheel is a min-heap of Entry, ordered by DeadlineUS.
type Wheel struct {
	items []Entry
}

// New returns an empty wheel with room for capacity entries before its
// first reallocation. Kernels built from cfg.Builder size this to the
// number of tasks plus timers declared at build time, so in practice no
// reallocation ever happens on the hot path.
func New(capacity int) *Wheel {
	return &Wheel{items: make([]Entry, 0, capacity)}
}

// Len returns the number of pending entries.
func (w *Wheel) Len() int { return len(w.items) }

// Peek returns the entry with the smallest deadline, or nil if the wheel
// is empty.
func (w *Wheel) Peek() Entry {
	if len(w.items) == 0 {
		return nil
	}
	return w.items[0]
}

// Insert pushes e onto the heap and sifts it up to its final position,
// writing that position into e via SetHeapIndex.
func (w *Wheel) Insert(e Entry) {
	i := len(w.items)
	w.items = append(w.items, e)
	e.SetHeapIndex(i)
	w.siftUp(0, i)
}

// Remove deletes e from the heap using its stored heap index. e must
// currently be a member of w; removing an entry that isn't (HeapIndex ==
// NoHeapIndex) is a no-op, matching the kernel's convention of calling
// Remove defensively when an entry's membership is uncertain.
func (w *Wheel) Remove(e Entry) {
	i := e.HeapIndex()
	if i < 0 || i >= len(w.items) || w.items[i] != e {
		return
	}
	w.removeAt(i)
}

func (w *Wheel) removeAt(i int) {
	end := len(w.items) - 1
	if i < end {
		w.swap(i, end)
		w.items[end].SetHeapIndex(NoHeapIndex)
		w.items = w.items[:end]
		w.siftDownToBottomThenUp(0, i)
	} else {
		w.items[i].SetHeapIndex(NoHeapIndex)
		w.items = w.items[:end]
	}
}

// PopDue removes and returns the root entry if its deadline is <= nowUS,
// otherwise it returns nil and leaves the heap untouched.
func (w *Wheel) PopDue(nowUS uint64) Entry {
	if len(w.items) == 0 {
		return nil
	}
	root := w.items[0]
	if root.DeadlineUS() > nowUS {
		return nil
	}
	w.removeAt(0)
	return root
}

func (w *Wheel) less(i, j int) bool {
	return w.items[i].DeadlineUS() < w.items[j].DeadlineUS()
}

func (w *Wheel) swap(i, j int) {
	w.items[i], w.items[j] = w.items[j], w.items[i]
	w.items[i].SetHeapIndex(i)
	w.items[j].SetHeapIndex(j)
}

func (w *Wheel) siftUp(start, pos int) int {
	for pos > start {
		parent := (pos - 1) / 2
		if !w.less(pos, parent) {
			break
		}
		w.swap(pos, parent)
		pos = parent
	}
	return pos
}

// siftDownToBottomThenUp follows constance's sift_down_to_bottom: walk the
// hole all the way to a leaf along the lesser-child path, then sift it
// back up. This is faster than a textbook sift-down when the replacement
// element (the former last item) is likely to belong near the bottom,
// which is the common case when removing an arbitrary mid-heap timeout.
func (w *Wheel) siftDownToBottomThenUp(start, pos int) {
	end := len(w.items)
	child := 2*pos + 1
	for child < end {
		right := child + 1
		if right < end && w.less(right, child) {
			child = right
		}
		w.swap(pos, child)
		pos = child
		child = 2*pos + 1
	}
	w.siftUp(start, pos)
}
