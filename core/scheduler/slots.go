package scheduler

import "sync"

// SlotTable tracks concurrent execution slots per resource class.
// Admission acquires a slot before a worker starts and releases it
// when the worker finishes, successfully or not.
type SlotTable struct {
	mu       sync.Mutex
	capacity map[ResourceClass]int
	inUse    map[ResourceClass]int
}

// NewSlotTable creates a slot table with the given per-class capacity.
func NewSlotTable(cpuSlots, gpuSlots int) *SlotTable {
	if cpuSlots <= 0 {
		cpuSlots = 1
	}
	return &SlotTable{
		capacity: map[ResourceClass]int{ClassCPU: cpuSlots, ClassGPU: gpuSlots},
		inUse:    map[ResourceClass]int{},
	}
}

// Acquire claims a slot of the class, returning false when the class
// is at capacity.
func (st *SlotTable) Acquire(class ResourceClass) bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.inUse[class] >= st.capacity[class] {
		return false
	}
	st.inUse[class]++
	return true
}

// Release frees a previously acquired slot.
func (st *SlotTable) Release(class ResourceClass) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.inUse[class]--
	if st.inUse[class] < 0 {
		st.inUse[class] = 0
	}
}

// InUse returns the number of occupied slots for a class.
func (st *SlotTable) InUse(class ResourceClass) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.inUse[class]
}

// Capacity returns the slot capacity for a class.
func (st *SlotTable) Capacity(class ResourceClass) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.capacity[class]
}
