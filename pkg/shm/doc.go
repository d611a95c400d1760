// Package shm provides named shared memory segments for inter-process communication.
//
// A Registry maps segment identifiers to files under a shared directory
// (normally /dev/shm). Each segment holds a table of named objects: the first
// process to register an object fixes its element size and count, later
// accesses with a different layout fail with ErrUnexpectedSize. Objects are
// read and written through the generic helpers Set, Get, SetArray, GetArray,
// SetString, SetPair and SetMap.
//
// Mutex, ConditionVariable and LockedConditionVariable are named primitives
// that synchronize any number of processes. A Mutex is released by the kernel
// when its holder dies.
//
// Example usage:
//
//	reg, err := shm.NewRegistry(shm.DefaultConfig())
//	// ...
//	err = shm.SetArray(reg, "robot", "joints", []float64{1.1, 2.2, 3.3, 4.4})
//	joints, err := shm.GetArray[float64](reg, "robot", "joints", 4)
package shm
