package platform

import (
	"context"
	"errors"
)

// ErrNoBLEAdapter is returned by NullBLE, the headless BLE implementation
// cmd/gapmeshd links in by default. Bridging to a real GATT stack is
// platform-specific (CoreBluetooth, BlueZ, Android's BluetoothLeScanner)
// and out of this module's scope; an embedder wanting the mesh transport
// supplies its own platform.BLE instead of this one.
var ErrNoBLEAdapter = errors.New("platform: no BLE adapter linked in")

// NullBLE satisfies the BLE interface without a radio, so gapmesh can run
// with Mesh.Enable=false and still construct a Controller.
type NullBLE struct{}

func (NullBLE) Advertise(ctx context.Context, serviceUUIDs [][16]byte, characteristicUUID [16]byte) error {
	return ErrNoBLEAdapter
}

func (NullBLE) Scan(ctx context.Context, serviceUUIDs [][16]byte) (<-chan Discovery, error) {
	return nil, ErrNoBLEAdapter
}

func (NullBLE) Connect(ctx context.Context, deviceRef string) (Conn, error) {
	return nil, ErrNoBLEAdapter
}

func (NullBLE) WriteCharacteristic(ctx context.Context, conn Conn, b []byte) error {
	return ErrNoBLEAdapter
}

func (NullBLE) SubscribeNotifications(conn Conn) (<-chan []byte, error) {
	return nil, ErrNoBLEAdapter
}

func (NullBLE) Disconnect(conn Conn) {}
