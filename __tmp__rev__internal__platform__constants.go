package platform

// BLECharacteristicUUID is the single fixed writable+notifiable
// characteristic every gapmesh peripheral exposes (spec §6).
var BLECharacteristicUUID = [16]byte{
	0xa1, 0xb2, 0xc3, 0xd4, 0xe5, 0xf6, 0x4a, 0x5b,
	0x8c, 0x9d, 0x0e, 0x1f, 0x2a, 0x3b, 0x4c, 0x5d,
}

// LegacyServiceUUID is advertised/scanned alongside the rotating UUID pool
// when legacy-compatibility mode is enabled.
var LegacyServiceUUID = [16]byte{
	0xf4, 0x7b, 0x5e, 0x2d, 0x4a, 0x9e, 0x4c, 0x5a,
	0x9b, 0x3f, 0x8e, 0x1d, 0x2c, 0x3a, 0x4b, 0x5c,
}

// DefaultNostrRelays is the default relay pool used by the internet
// transport.
var DefaultNostrRelays = []string{
	"wss://relay.damus.io",
	"wss://nos.lol",
	"wss://relay.primal.net",
	"wss://offchain.pub",
	"wss://nostr21.com",
}

// EmbeddedPacketMarker prefixes the base64-encoded core Packet embedded in
// a Nostr rumor's content field.
const EmbeddedPacketMarker = "bitchat1:"

// Deep-link schemes recognized by the application layer; the core only
// needs to know the query-parameter name so it can be threaded through
// unmodified.
const (
	DeepLinkSchemeBitchat = "bitchat"
	DeepLinkSchemeGap     = "gap"
	DeepLinkShareHost     = "share"
	DeepLinkContentParam  = "content"
)

// Keychain item names (spec §6, "Persistent state layout").
const (
	KeyIdentityStatic  = "identity/static"
	KeyIdentitySigning = "identity/signing"
	KeyIdentityNostr   = "identity/nostr"
	KeyFavoritesV1     = "favorites/v1"
)


