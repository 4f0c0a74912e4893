package noise

import "bytes"

// ResolveGlare decides which side of a simultaneous mutual-initiation
// collision proceeds as the XX initiator: the side whose static public
// key sorts lexicographically greater. Both sides compute this
// independently off the same two public keys and always agree.
func ResolveGlare(localStatic, remoteStatic []byte) Role {
	if bytes.Compare(localStatic, remoteStatic) > 0 {
		return RoleInitiator
	}
	return RoleResponder
}


