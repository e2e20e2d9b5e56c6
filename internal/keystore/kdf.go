package keystore

import "golang.org/x/crypto/argon2"

// argon2IDKey derives a keySize-byte key-encrypting key from password and
// salt using Argon2id, the password-hashing KDF absfs-encryptfs also
// builds its key provider on.
func argon2IDKey(password, salt []byte, time, memory uint32, threads uint8, keySize int) []byte {
	return argon2.IDKey(password, salt, time, memory, threads, uint32(keySize))
}
