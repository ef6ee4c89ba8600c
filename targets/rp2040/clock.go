//go:build rp2040 || rp2350

package main

import (
	"runtime/volatile"
	"unsafe"

	"servopulse/core"
)

var (
	alarmReg = (*volatile.Register32)(unsafe.Pointer(uintptr(timerALARM2)))
	armedReg = (*volatile.Register32)(unsafe.Pointer(uintptr(timerARMED)))
	rawlReg  = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTIMERAWL)))
	intrReg  = (*volatile.Register32)(unsafe.Pointer(uintptr(timerINTR)))
	inteReg  = (*volatile.Register32)(unsafe.Pointer(uintptr(timerINTE)))
)

// GetHardwareTime returns the low 32 bits of the microsecond counter,
// the same counter the servo alarm compares against
func GetHardwareTime() uint32 {
	return rawlReg.Get()
}

// UpdateSystemTime updates the core timer with hardware time
func UpdateSystemTime() {
	core.SetTime(GetHardwareTime())
}
