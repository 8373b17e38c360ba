//go:build windows

package mem

func lockMemoryPlatform() (ProtectionLevel, error) {
	// VirtualLock has per-process quota limitations on Windows; memguard
	// enclaves remain the primary protection there.
	return ProtectionPartial, nil
}

func unlockMemoryPlatform() error {
	return nil
}
