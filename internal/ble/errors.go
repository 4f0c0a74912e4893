package ble

import "errors"

// errNotReachable is returned by SendPrivate when the peer has no Ready
// connection (the Router falls back to queuing in that case).
var errNotReachable = errors.New("ble: peer not reachable")
