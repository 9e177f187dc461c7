// Package anchor holds the Anchor framework's discriminator scheme.
package anchor

import "crypto/sha256"

// GetDiscriminator returns the 8-byte prefix Anchor expects for
// namespace:name, e.g. ("global", "claim_fee") for instructions.
func GetDiscriminator(namespace string, name string) []byte {
	sum := sha256.Sum256([]byte(namespace + ":" + name))
	return sum[:8]
}

// AccountDiscriminator returns the prefix of an account type's data.
func AccountDiscriminator(typeName string) []byte {
	return GetDiscriminator("account", typeName)
}
