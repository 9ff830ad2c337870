//go:build !linux

/*
NAME
  sysmem_other.go

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

import "errors"

// sysMemInfo is unsupported off Linux; the save queue keeps its floor
// capacity.
func sysMemInfo() (phys, virt uint64, err error) {
	return 0, 0, errors.New("acquire: memory statistics unsupported on this platform")
}
