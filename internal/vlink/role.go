package vlink

import "fmt"

// SelectRole implements spec §4.3's role selection: lexicographically lower
// uid is ICE-controlling. Equal uids mean a self-link and are rejected.
func SelectRole(localUID, peerUID string) (controlling bool, err error) {
	if localUID == peerUID {
		return false, fmt.Errorf("%w: cannot link to self", ErrLinkSetup)
	}
	return localUID < peerUID, nil
}
