/*
NAME
  sysmem_linux.go

AUTHORS
  Saxon A. Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package acquire

import "syscall"

// sysMemInfo returns total physical and virtual memory in bytes. Virtual
// memory is physical plus swap.
func sysMemInfo() (phys, virt uint64, err error) {
	var si syscall.Sysinfo_t
	if err := syscall.Sysinfo(&si); err != nil {
		return 0, 0, err
	}
	unit := uint64(si.Unit)
	phys = uint64(si.Totalram) * unit
	virt = phys + uint64(si.Totalswap)*unit
	return phys, virt, nil
}
